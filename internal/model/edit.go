package model

import "time"

// EditType classifies an entry of the mapping audit trail.
type EditType string

const (
    EditManual       EditType = "manual"
    EditAICorrection EditType = "ai_correction"
    EditBulk         EditType = "bulk_edit"
)

// MappingEdit is one append-only audit row.  A create has no old values, a
// delete has no new values and an update carries both.
type MappingEdit struct {
    ID           string         `json:"id"`             // mapping_edits.id
    SentenceID   string         `json:"sentence_id"`    // mapping_edits.sentence_id
    UserID       *string        `json:"user_id"`        // mapping_edits.user_id (nullable)
    OldMappingID *string        `json:"old_mapping_id"` // mapping_edits.old_mapping_id
    NewMappingID *string        `json:"new_mapping_id"` // mapping_edits.new_mapping_id
    OldStartTime *float64       `json:"old_start_time"` // mapping_edits.old_start_time
    OldEndTime   *float64       `json:"old_end_time"`   // mapping_edits.old_end_time
    NewStartTime *float64       `json:"new_start_time"` // mapping_edits.new_start_time
    NewEndTime   *float64       `json:"new_end_time"`   // mapping_edits.new_end_time
    EditReason   *string        `json:"edit_reason"`    // mapping_edits.edit_reason
    EditType     EditType       `json:"edit_type"`      // mapping_edits.edit_type
    ClientInfo   map[string]any `json:"client_info"`    // mapping_edits.client_info (JSON)
    CreatedAt    time.Time      `json:"created_at"`     // mapping_edits.created_at
}
