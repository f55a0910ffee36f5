package analysis

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/carvidal/metrodl/api"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

func TestIsSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"song.mp3", true},
		{"song.WAV", true},
		{"song.flac", true},
		{"song.ogg", false},
		{"song", false},
	}
	for _, tt := range tests {
		if got := IsSupported(tt.path); got != tt.want {
			t.Errorf("IsSupported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestAnalyzeRejectsUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ogg")
	if err := os.WriteFile(path, []byte("not audio"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewAnalyzer().Analyze(&api.AudioAsset{Path: path})
	if !errors.Is(err, mderrors.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestAnalyzeMissingAsset(t *testing.T) {
	if _, err := NewAnalyzer().Analyze(nil); !errors.Is(err, mderrors.ErrNoAsset) {
		t.Fatalf("err = %v, want ErrNoAsset", err)
	}
}
