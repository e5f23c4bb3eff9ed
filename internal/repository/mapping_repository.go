// Package repository contains data access logic for sentence mappings and
// their audit trail. Mapping rows are versioned: a write deactivates the
// current active row and inserts a new one inside a single transaction,
// and the store's unique index on the active sentence guarantees that at
// most one row per sentence is active.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bini59/kiko-vooster/internal/model"
)

// MappingRepo manages persistence for sentence_mappings and mapping_edits.
type MappingRepo struct {
	db *sql.DB
}

// NewMappingRepo constructs a MappingRepo with the provided database handle.
func NewMappingRepo(db *sql.DB) *MappingRepo { return &MappingRepo{db: db} }

// DB exposes the underlying sql.DB so callers can run health checks or
// transactions spanning multiple repositories.
func (r *MappingRepo) DB() *sql.DB { return r.db }

const mappingColumns = `id, sentence_id, start_time, end_time, confidence_score, mapping_type,
       created_by, is_active, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(s rowScanner, extra ...any) (model.SentenceMapping, error) {
	var (
		m         model.SentenceMapping
		createdBy sql.NullString
		meta      sql.NullString
		mtype     string
	)
	dest := []any{
		&m.ID, &m.SentenceID, &m.StartTime, &m.EndTime, &m.ConfidenceScore, &mtype,
		&createdBy, &m.IsActive, &meta, &m.CreatedAt, &m.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return m, err
	}
	m.MappingType = model.MappingType(mtype)
	m.CreatedBy = strPtr(createdBy)
	md, err := decodeJSON(meta)
	if err != nil {
		return m, err
	}
	m.Metadata = md
	return m, nil
}

// ActiveBySentence returns the active mapping of a sentence, or ErrNotFound.
func (r *MappingRepo) ActiveBySentence(ctx context.Context, sentenceID string) (*model.SentenceMapping, error) {
	q := `SELECT ` + mappingColumns + `
            FROM sentence_mappings
           WHERE sentence_id = ? AND is_active = 1
           LIMIT 1`
	m, err := scanMapping(r.db.QueryRowContext(ctx, q, sentenceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Replace records one versioned write in a single transaction:
//
//   - prev, if non-nil, is deactivated; ErrConflict if it is no longer active
//   - next, if non-nil, is inserted as the new active row; ErrConflict on a
//     unique violation (another active row exists)
//   - edit is appended to the audit trail
//
// A create passes prev=nil, a delete passes next=nil.
func (r *MappingRepo) Replace(ctx context.Context, prev, next *model.SentenceMapping, edit *model.MappingEdit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := edit.CreatedAt
	if prev != nil {
		if err := r.DeactivateTx(ctx, tx, prev.ID, now); err != nil {
			return err
		}
	}
	if next != nil {
		if err := r.InsertTx(ctx, tx, next); err != nil {
			return err
		}
	}
	if err := r.InsertEditTx(ctx, tx, edit); err != nil {
		return err
	}
	return tx.Commit()
}

// DeactivateTx flips one active mapping to inactive.
func (r *MappingRepo) DeactivateTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	const q = `UPDATE sentence_mappings SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`
	res, err := tx.ExecContext(ctx, q, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// InsertTx inserts m as a new mapping row.
func (r *MappingRepo) InsertTx(ctx context.Context, tx *sql.Tx, m *model.SentenceMapping) error {
	meta, err := encodeJSON(m.Metadata)
	if err != nil {
		return err
	}
	const q = `INSERT INTO sentence_mappings
        (id, sentence_id, start_time, end_time, confidence_score, mapping_type,
         created_by, is_active, metadata, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		m.ID, m.SentenceID, m.StartTime, m.EndTime, m.ConfidenceScore, string(m.MappingType),
		nullString(m.CreatedBy), m.IsActive, meta, m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// InsertEditTx appends an audit row.
func (r *MappingRepo) InsertEditTx(ctx context.Context, tx *sql.Tx, e *model.MappingEdit) error {
	info, err := encodeJSON(e.ClientInfo)
	if err != nil {
		return err
	}
	const q = `INSERT INTO mapping_edits
        (id, sentence_id, user_id, old_mapping_id, new_mapping_id,
         old_start_time, old_end_time, new_start_time, new_end_time,
         edit_reason, edit_type, client_info, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		e.ID, e.SentenceID, nullString(e.UserID), nullString(e.OldMappingID), nullString(e.NewMappingID),
		nullFloat(e.OldStartTime), nullFloat(e.OldEndTime), nullFloat(e.NewStartTime), nullFloat(e.NewEndTime),
		nullString(e.EditReason), string(e.EditType), info, e.CreatedAt)
	return err
}

// ListByScript returns the mappings of every sentence of a script, ordered
// by the sentence's position and then newest version first. Inactive
// versions are included only when includeInactive is set.
func (r *MappingRepo) ListByScript(ctx context.Context, scriptID string, includeInactive bool) ([]model.ScriptMapping, error) {
	q := `SELECT m.id, m.sentence_id, m.start_time, m.end_time, m.confidence_score, m.mapping_type,
                 m.created_by, m.is_active, m.metadata, m.created_at, m.updated_at,
                 s.order_index, s.text
            FROM sentence_mappings m
            JOIN sentences s ON s.id = m.sentence_id
           WHERE s.script_id = ?`
	if !includeInactive {
		q += ` AND m.is_active = 1`
	}
	q += ` ORDER BY s.order_index ASC, m.created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ScriptMapping, 0)
	for rows.Next() {
		var sm model.ScriptMapping
		m, err := scanMapping(rows, &sm.OrderIndex, &sm.SentenceText)
		if err != nil {
			return nil, err
		}
		sm.SentenceMapping = m
		out = append(out, sm)
	}
	return out, rows.Err()
}

// ListEdits returns up to limit audit rows for a sentence, newest first.
func (r *MappingRepo) ListEdits(ctx context.Context, sentenceID string, limit int) ([]model.MappingEdit, error) {
	const q = `SELECT id, sentence_id, user_id, old_mapping_id, new_mapping_id,
                      old_start_time, old_end_time, new_start_time, new_end_time,
                      edit_reason, edit_type, client_info, created_at
                 FROM mapping_edits
                WHERE sentence_id = ?
                ORDER BY created_at DESC
                LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, sentenceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.MappingEdit, 0)
	for rows.Next() {
		var (
			e                    model.MappingEdit
			userID, oldID, newID sql.NullString
			oldStart, oldEnd     sql.NullFloat64
			newStart, newEnd     sql.NullFloat64
			reason, info         sql.NullString
			etype                string
		)
		if err := rows.Scan(&e.ID, &e.SentenceID, &userID, &oldID, &newID,
			&oldStart, &oldEnd, &newStart, &newEnd,
			&reason, &etype, &info, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID, e.OldMappingID, e.NewMappingID = strPtr(userID), strPtr(oldID), strPtr(newID)
		e.OldStartTime, e.OldEndTime = floatPtr(oldStart), floatPtr(oldEnd)
		e.NewStartTime, e.NewEndTime = floatPtr(newStart), floatPtr(newEnd)
		e.EditReason = strPtr(reason)
		e.EditType = model.EditType(etype)
		ci, err := decodeJSON(info)
		if err != nil {
			return nil, err
		}
		e.ClientInfo = ci
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEdits returns the number of audit rows of a sentence.
func (r *MappingRepo) CountEdits(ctx context.Context, sentenceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mapping_edits WHERE sentence_id = ?`, sentenceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count edits: %w", err)
	}
	return n, nil
}
