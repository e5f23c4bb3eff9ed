package service

import "github.com/bini59/kiko-vooster/internal/model"

// Confidence returns the trust score of a mapping.  Manual mappings are
// authoritative; aligner output is trusted less for very short segments.
func Confidence(t model.MappingType, duration float64) float64 {
	switch t {
	case model.MappingManual:
		return 1.0
	case model.MappingAIGenerated:
		switch {
		case duration < 1.0:
			return 0.3
		case duration < 3.0:
			return 0.6
		default:
			return 0.8
		}
	default:
		return 0.5
	}
}

// editTypeFor derives the audit classification of a write.
func editTypeFor(t model.MappingType) model.EditType {
	if t == model.MappingAIGenerated {
		return model.EditAICorrection
	}
	return model.EditManual
}
