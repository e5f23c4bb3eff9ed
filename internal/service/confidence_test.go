package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bini59/kiko-vooster/internal/model"
)

func TestConfidence(t *testing.T) {
	cases := []struct {
		typ      model.MappingType
		duration float64
		want     float64
	}{
		{model.MappingManual, 0.1, 1.0},
		{model.MappingManual, 100, 1.0},
		{model.MappingAIGenerated, 0.5, 0.3},
		{model.MappingAIGenerated, 0.999, 0.3},
		{model.MappingAIGenerated, 1.0, 0.6},
		{model.MappingAIGenerated, 2.9, 0.6},
		{model.MappingAIGenerated, 3.0, 0.8},
		{model.MappingAIGenerated, 30, 0.8},
		{model.MappingAuto, 2, 0.5},
		{model.MappingType("other"), 2, 0.5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Confidence(tc.typ, tc.duration), "%s %.3f", tc.typ, tc.duration)
		// deterministic
		assert.Equal(t, Confidence(tc.typ, tc.duration), Confidence(tc.typ, tc.duration))
	}
}

func TestUniformAligner(t *testing.T) {
	sentences := []model.Sentence{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	segs, err := UniformAligner{}.Align(context.Background(), sentences, 9)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, Segment{SentenceID: "a", Start: 0, End: 3}, segs[0])
	assert.Equal(t, Segment{SentenceID: "b", Start: 3, End: 6}, segs[1])
	assert.Equal(t, Segment{SentenceID: "c", Start: 6, End: 9}, segs[2])

	segs, err = UniformAligner{}.Align(context.Background(), nil, 9)
	require.NoError(t, err)
	assert.Empty(t, segs)
}
