package audio

// Resample converts samples from one rate to another using cubic
// interpolation. The input slice is returned untouched when the rates
// already match.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) < 4 {
		return samples
	}

	ratio := float64(toRate) / float64(fromRate)
	newLength := int(float64(len(samples)) * ratio)
	out := make([]float32, newLength)

	lastIndex := len(samples) - 3
	for i := 0; i < newLength; i++ {
		origPos := float64(i) / ratio
		index := int(origPos)
		if index < 1 {
			index = 1
		} else if index > lastIndex {
			index = lastIndex
		}
		frac := float32(origPos) - float32(index)

		y0, y1, y2, y3 := samples[index-1], samples[index], samples[index+1], samples[index+2]
		mu2 := frac * frac
		a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
		a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
		a2 := -0.5*y0 + 0.5*y2
		a3 := y1

		out[i] = a0*frac*mu2 + a1*mu2 + a2*frac + a3
	}
	return out
}
