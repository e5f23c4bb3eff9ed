package service

import (
	"context"

	"github.com/bini59/kiko-vooster/internal/model"
)

// Segment is one aligned interval proposed for a sentence.
type Segment struct {
	SentenceID string
	Start      float64
	End        float64
}

// Aligner maps the sentences of a script onto an audio track.
type Aligner interface {
	Align(ctx context.Context, sentences []model.Sentence, duration float64) ([]Segment, error)
	Name() string
}

// UniformAligner splits the audio into equal slices, one per sentence in
// reading order.  It stands in for a speech aligner.
type UniformAligner struct{}

func (UniformAligner) Name() string { return "uniform" }

func (UniformAligner) Align(_ context.Context, sentences []model.Sentence, duration float64) ([]Segment, error) {
	n := len(sentences)
	out := make([]Segment, 0, n)
	if n == 0 {
		return out, nil
	}
	step := duration / float64(n)
	for i, s := range sentences {
		end := float64(i+1) * step
		if i == n-1 {
			end = duration
		}
		out = append(out, Segment{SentenceID: s.ID, Start: float64(i) * step, End: end})
	}
	return out, nil
}
