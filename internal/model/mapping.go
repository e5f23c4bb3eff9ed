package model

import "time"

// MappingType records how a sentence mapping was produced.
type MappingType string

const (
    MappingManual      MappingType = "manual"       // drawn by a person in the editor
    MappingAuto        MappingType = "auto"         // derived by a heuristic
    MappingAIGenerated MappingType = "ai_generated" // produced by the aligner
)

// Valid reports whether t is one of the known mapping types.
func (t MappingType) Valid() bool {
    switch t {
    case MappingManual, MappingAuto, MappingAIGenerated:
        return true
    }
    return false
}

// SentenceMapping is the timecode of one script sentence inside the
// script's audio.  Rows are never edited in place: a new version is
// inserted and the previous one is deactivated, so for a sentence at most
// one row has IsActive set.
//
// Fields:
//  ID              – primary key (UUID).
//  SentenceID      – sentence the interval belongs to.
//  StartTime       – interval start in seconds, >= 0.
//  EndTime         – interval end in seconds, > StartTime.
//  ConfidenceScore – 0..1 trust heuristic derived from MappingType.
//  MappingType     – manual, auto or ai_generated.
//  CreatedBy       – acting user; nil for anonymous or system writes.
//  IsActive        – whether this row is the authoritative version.
//  Metadata        – opaque client data stored as JSON.
type SentenceMapping struct {
    ID              string         `json:"id"`               // sentence_mappings.id
    SentenceID      string         `json:"sentence_id"`      // sentence_mappings.sentence_id
    StartTime       float64        `json:"start_time"`       // sentence_mappings.start_time
    EndTime         float64        `json:"end_time"`         // sentence_mappings.end_time
    ConfidenceScore float64        `json:"confidence_score"` // sentence_mappings.confidence_score
    MappingType     MappingType    `json:"mapping_type"`     // sentence_mappings.mapping_type
    CreatedBy       *string        `json:"created_by"`       // sentence_mappings.created_by (nullable)
    IsActive        bool           `json:"is_active"`        // sentence_mappings.is_active
    Metadata        map[string]any `json:"metadata"`         // sentence_mappings.metadata (JSON)
    CreatedAt       time.Time      `json:"created_at"`       // sentence_mappings.created_at
    UpdatedAt       time.Time      `json:"updated_at"`       // sentence_mappings.updated_at
}

// Duration returns the length of the mapped interval in seconds.
func (m SentenceMapping) Duration() float64 { return m.EndTime - m.StartTime }

// ScriptMapping is a mapping joined with the position of its sentence in
// the script, as returned by the per-script listing.
type ScriptMapping struct {
    SentenceMapping
    OrderIndex   int    `json:"order_index"`   // sentences.order_index
    SentenceText string `json:"sentence_text"` // sentences.text
}
