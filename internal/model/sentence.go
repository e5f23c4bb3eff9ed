package model

// Sentence is the read-only view of a script sentence needed for
// alignment and listing.
type Sentence struct {
    ID         string // sentences.id
    ScriptID   string // sentences.script_id
    OrderIndex int    // sentences.order_index
    Text       string // sentences.text
}
