package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bini59/kiko-vooster/internal/model"
)

// SentenceRepo reads the sentences table. Sentences are owned by the script
// service; this repository never writes them.
type SentenceRepo struct{ db *sql.DB }

func NewSentenceRepo(db *sql.DB) *SentenceRepo { return &SentenceRepo{db: db} }

// ScriptIDForSentence resolves the script a sentence belongs to.
func (r *SentenceRepo) ScriptIDForSentence(ctx context.Context, sentenceID string) (string, error) {
	var scriptID string
	err := r.db.QueryRowContext(ctx,
		"SELECT script_id FROM sentences WHERE id=? LIMIT 1", sentenceID).Scan(&scriptID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return scriptID, err
}

// ListByScript returns the sentences of a script in reading order.
func (r *SentenceRepo) ListByScript(ctx context.Context, scriptID string) ([]model.Sentence, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, script_id, order_index, text FROM sentences WHERE script_id=? ORDER BY order_index ASC",
		scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Sentence
	for rows.Next() {
		var s model.Sentence
		if err := rows.Scan(&s.ID, &s.ScriptID, &s.OrderIndex, &s.Text); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
