package analysis

import (
	"github.com/carvidal/metrodl/api"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

// UniformGrid generates beat timestamps 0, 60/bpm, 120/bpm, ... while
// strictly below duration. This single rule covers detected tempo,
// half/double variants, and manual overrides alike.
func UniformGrid(bpm, duration float64) []float64 {
	if bpm <= 0 || duration <= 0 {
		return nil
	}
	interval := 60.0 / bpm
	beats := make([]float64, 0, int(duration/interval)+1)
	for i := 0; ; i++ {
		t := float64(i) * interval
		if t >= duration {
			break
		}
		beats = append(beats, t)
	}
	return beats
}

// NewGrid builds a BeatGrid for one tempo over a fixed duration.
func NewGrid(bpm, duration float64) (*api.BeatGrid, error) {
	if bpm <= 0 {
		return nil, mderrors.NewValidation("bpm", mderrors.ErrInvalidBPM)
	}
	return &api.BeatGrid{
		BPM:      bpm,
		Beats:    UniformGrid(bpm, duration),
		Duration: duration,
	}, nil
}

// GridSet holds the three tempo variants computed from one analysis.
type GridSet struct {
	Normal *api.BeatGrid
	Half   *api.BeatGrid
	Double *api.BeatGrid
}

// NewGridSet derives the normal, half and double variants from a
// detected or manual BPM. half = bpm/2 and double = bpm*2 exactly.
func NewGridSet(bpm, duration float64) (*GridSet, error) {
	normal, err := NewGrid(bpm, duration)
	if err != nil {
		return nil, err
	}
	half, err := NewGrid(bpm/2, duration)
	if err != nil {
		return nil, err
	}
	double, err := NewGrid(bpm*2, duration)
	if err != nil {
		return nil, err
	}
	return &GridSet{Normal: normal, Half: half, Double: double}, nil
}

// Select returns the grid matching a tempo option.
func (g *GridSet) Select(opt api.TempoOption) *api.BeatGrid {
	switch opt {
	case api.TempoSlow:
		return g.Half
	case api.TempoFast:
		return g.Double
	default:
		return g.Normal
	}
}
