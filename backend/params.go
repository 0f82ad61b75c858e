package backend

// Parameter bounds applied uniformly before dispatch. Invalid values are
// clamped, never rejected; the transport layer owns request validation.
const (
	MinTemperature = 0.0
	MaxTemperature = 1.0
	MinTokens      = 1
	MaxTokens      = 2048
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinTopK        = 1
)

// Normalize clamps the generation parameters into their valid ranges.
// Variants call this once at the top of Generate / GenerateStream.
func (r *GenerationRequest) Normalize() {
	r.Temperature = clampFloat(r.Temperature, MinTemperature, MaxTemperature)
	if r.MaxTokens < MinTokens {
		r.MaxTokens = MinTokens
	} else if r.MaxTokens > MaxTokens {
		r.MaxTokens = MaxTokens
	}
	r.TopP = clampFloat(r.TopP, MinTopP, MaxTopP)
	if r.TopK < MinTopK {
		r.TopK = MinTopK
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
