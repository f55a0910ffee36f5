package analysis

import (
	"fmt"
	"math"

	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

const (
	frameSize = 1024
	hopSize   = 512

	minBPM = 30.0
	maxBPM = 240.0

	// Tempo prior: log-normal centered at 120 BPM, one octave of
	// standard deviation. Breaks ties between a tempo and its
	// half/double harmonics toward the musically common range.
	priorCenterBPM = 120.0
	priorOctaveStd = 1.0
)

// EstimateTempo estimates a single scalar tempo from a mono signal.
// Deterministic: identical samples always produce the same BPM. The
// estimate is the autocorrelation peak of the onset-strength envelope,
// weighted by a log-normal prior over tempo.
func EstimateTempo(mono []float64, rate int) (float64, error) {
	if rate <= 0 || len(mono) < frameSize*4 {
		return 0, &mderrors.AnalysisError{Err: fmt.Errorf("signal too short for tempo estimation")}
	}

	envelope := onsetStrength(mono)
	if len(envelope) < 4 {
		return 0, &mderrors.AnalysisError{Err: fmt.Errorf("degenerate signal")}
	}

	hopTime := float64(hopSize) / float64(rate)
	minLag := int(60.0 / (maxBPM * hopTime))
	maxLag := int(60.0 / (minBPM * hopTime))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(envelope) {
		maxLag = len(envelope) - 1
	}
	if maxLag <= minLag {
		return 0, &mderrors.AnalysisError{Err: fmt.Errorf("signal too short for tempo estimation")}
	}

	bestLag := 0
	bestScore := math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		var acc float64
		n := len(envelope) - lag
		for i := 0; i < n; i++ {
			acc += envelope[i] * envelope[i+lag]
		}
		acc /= float64(n)

		bpm := 60.0 / (float64(lag) * hopTime)
		score := acc * tempoPrior(bpm)
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}
	if bestLag == 0 || bestScore <= 0 {
		return 0, &mderrors.AnalysisError{Err: fmt.Errorf("no periodicity found in signal")}
	}

	bpm := 60.0 / (float64(bestLag) * hopTime)
	return math.Round(bpm*100) / 100, nil
}

// onsetStrength computes a positive energy-flux envelope: per-frame RMS
// energy, first difference, negative values clipped to zero.
func onsetStrength(mono []float64) []float64 {
	numFrames := (len(mono) - frameSize) / hopSize
	if numFrames <= 1 {
		return nil
	}

	energy := make([]float64, numFrames)
	for f := 0; f < numFrames; f++ {
		start := f * hopSize
		var sum float64
		for _, s := range mono[start : start+frameSize] {
			sum += s * s
		}
		energy[f] = math.Sqrt(sum / frameSize)
	}

	flux := make([]float64, numFrames-1)
	for i := 1; i < numFrames; i++ {
		d := energy[i] - energy[i-1]
		if d > 0 {
			flux[i-1] = d
		}
	}
	return flux
}

func tempoPrior(bpm float64) float64 {
	x := math.Log2(bpm/priorCenterBPM) / priorOctaveStd
	return math.Exp(-0.5 * x * x)
}
