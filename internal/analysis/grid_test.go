package analysis

import (
	"math"
	"testing"

	"github.com/carvidal/metrodl/api"
)

func TestUniformGridSpacing(t *testing.T) {
	tests := []struct {
		name     string
		bpm      float64
		duration float64
		want     int
	}{
		{"120 bpm over 10s", 120, 10.0, 20},
		{"60 bpm over 10s", 60, 10.0, 10},
		{"once per duration", 60, 1.0, 1},
		{"zero duration", 120, 0, 0},
		{"short tail excluded", 120, 9.75, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beats := UniformGrid(tt.bpm, tt.duration)
			if len(beats) != tt.want {
				t.Fatalf("UniformGrid(%v, %v) returned %d beats, want %d", tt.bpm, tt.duration, len(beats), tt.want)
			}

			interval := 60.0 / tt.bpm
			for i, b := range beats {
				if want := float64(i) * interval; math.Abs(b-want) > 1e-9 {
					t.Errorf("beat %d = %v, want %v", i, b, want)
				}
				if b >= tt.duration {
					t.Errorf("beat %d = %v is not below duration %v", i, b, tt.duration)
				}
			}
		})
	}
}

func TestUniformGridLength(t *testing.T) {
	// length must equal ceil(duration / (60/bpm)) for any valid pair
	for _, bpm := range []float64{33.3, 60, 97.5, 120, 178.2} {
		for _, duration := range []float64{1, 7.3, 10, 61.44, 180} {
			beats := UniformGrid(bpm, duration)
			want := int(math.Ceil(duration / (60 / bpm)))
			if len(beats) != want {
				t.Errorf("bpm=%v duration=%v: got %d beats, want %d", bpm, duration, len(beats), want)
			}
		}
	}
}

func TestUniformGridScenario(t *testing.T) {
	beats := UniformGrid(120, 10.0)
	if len(beats) != 20 {
		t.Fatalf("expected 20 beats, got %d", len(beats))
	}
	if beats[0] != 0 {
		t.Errorf("first beat = %v, want 0", beats[0])
	}
	if math.Abs(beats[19]-9.5) > 1e-9 {
		t.Errorf("last beat = %v, want 9.5", beats[19])
	}
}

func TestNewGridRejectsInvalidBPM(t *testing.T) {
	for _, bpm := range []float64{0, -1, -120} {
		if _, err := NewGrid(bpm, 10); err == nil {
			t.Errorf("NewGrid(%v, 10) should fail", bpm)
		}
	}
}

func TestGridSetVariants(t *testing.T) {
	set, err := NewGridSet(97.68, 123.4)
	if err != nil {
		t.Fatal(err)
	}

	if set.Half.BPM != 97.68/2 {
		t.Errorf("half BPM = %v, want %v", set.Half.BPM, 97.68/2)
	}
	if set.Double.BPM != 97.68*2 {
		t.Errorf("double BPM = %v, want %v", set.Double.BPM, 97.68*2)
	}

	// half tempo means half the beats (within one of rounding)
	if len(set.Half.Beats)*2 < len(set.Normal.Beats)-1 || len(set.Half.Beats)*2 > len(set.Normal.Beats)+2 {
		t.Errorf("half grid has %d beats vs %d normal", len(set.Half.Beats), len(set.Normal.Beats))
	}
}

func TestGridSetSelect(t *testing.T) {
	set, err := NewGridSet(100, 60)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		opt  api.TempoOption
		want float64
	}{
		{api.TempoSlow, 50},
		{api.TempoNormal, 100},
		{api.TempoFast, 200},
	}
	for _, tt := range tests {
		if got := set.Select(tt.opt); got.BPM != tt.want {
			t.Errorf("Select(%s).BPM = %v, want %v", tt.opt, got.BPM, tt.want)
		}
	}
}

func TestSelectIdempotent(t *testing.T) {
	set, err := NewGridSet(120, 30)
	if err != nil {
		t.Fatal(err)
	}

	first := set.Select(api.TempoSlow)
	second := set.Select(api.TempoSlow)
	if len(first.Beats) != len(second.Beats) {
		t.Fatalf("repeated selection changed beat count: %d vs %d", len(first.Beats), len(second.Beats))
	}
	for i := range first.Beats {
		if first.Beats[i] != second.Beats[i] {
			t.Errorf("beat %d differs between selections", i)
		}
	}
}
