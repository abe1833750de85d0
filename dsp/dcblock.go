package dsp

// DCBlocker removes the DC component from a signal with the one-pole
// high-pass difference equation y[n] = x[n] - x[n-1] + R*y[n-1].
//
// Reference: Julius O. Smith III, "Introduction to Digital Filters with
// Audio Applications", https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCBlocker struct {
	pole float64 // R parameter (0 < R < 1)

	x1 float64 // previous input
	y1 float64 // previous output
}

// NewDCBlocker creates a DC blocker with the standard audio pole of 0.995
// (cutoff ≈ 8 Hz at 44.1 kHz).
func NewDCBlocker() *DCBlocker {
	return &DCBlocker{pole: 0.995}
}

// Process applies DC removal to a single sample.
func (dc *DCBlocker) Process(input float64) float64 {
	output := input - dc.x1 + dc.pole*dc.y1
	dc.x1 = input
	dc.y1 = output
	return output
}

// ProcessBuffer applies DC removal to an entire buffer of samples.
func (dc *DCBlocker) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		output[i] = dc.Process(sample)
	}
	return output
}

// Reset clears the filter's internal state.
// Call this when processing discontinuous audio segments.
func (dc *DCBlocker) Reset() {
	dc.x1 = 0.0
	dc.y1 = 0.0
}
