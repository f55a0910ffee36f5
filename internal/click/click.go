package click

import "math"

// Click waveform parameters. A short 1 kHz burst with asymmetric linear
// fades keeps the stamp audible without clicks/pops at its boundaries.
const (
	FrequencyHz = 1000.0
	DurationMS  = 20.0
	FadeInMS    = 5.0
	FadeOutMS   = 15.0

	MinVolumeDB = -40.0
	MaxVolumeDB = 0.0
)

// ClampVolume restricts a user-supplied gain to the supported dB range.
func ClampVolume(db float64) float64 {
	if db < MinVolumeDB {
		return MinVolumeDB
	}
	if db > MaxVolumeDB {
		return MaxVolumeDB
	}
	return db
}

// Synthesize renders the metronome click as mono samples at the given
// sample rate, attenuated by volumeDB. Identical inputs always produce
// identical output.
func Synthesize(volumeDB float64, rate int) []float64 {
	gain := math.Pow(10, ClampVolume(volumeDB)/20)

	n := int(float64(rate) * DurationMS / 1000)
	fadeIn := int(float64(rate) * FadeInMS / 1000)
	fadeOut := int(float64(rate) * FadeOutMS / 1000)

	tone := make([]float64, n)
	for i := range tone {
		t := float64(i) / float64(rate)
		s := math.Sin(2 * math.Pi * FrequencyHz * t)

		env := 1.0
		if i < fadeIn {
			env = float64(i) / float64(fadeIn)
		} else if i >= n-fadeOut {
			env = float64(n-i) / float64(fadeOut)
		}
		tone[i] = s * env * gain
	}
	return tone
}

// Stamp additively mixes the click into dst at each beat timestamp
// converted to a sample offset. Overlapping stamps simply sum. Clicks
// running past the end of dst are truncated at the buffer edge.
func Stamp(dst [][2]float64, tone []float64, beats []float64, rate int) {
	for _, beat := range beats {
		offset := int(beat * float64(rate))
		if offset < 0 || offset >= len(dst) {
			continue
		}
		for i, s := range tone {
			j := offset + i
			if j >= len(dst) {
				break
			}
			dst[j][0] += s
			dst[j][1] += s
		}
	}
}
