package acquire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    int
		wantOK  bool
	}{
		{"half done", "metrodl:50/100", 50, true},
		{"complete", "metrodl:1024/1024", 100, true},
		{"fractional bytes", "metrodl:333.5/1000.0", 33, true},
		{"with whitespace", "  metrodl:10/100  ", 10, true},
		{"over total clamped", "metrodl:2048/1024", 100, true},
		{"zero total", "metrodl:10/0", 0, false},
		{"missing total", "metrodl:10", 0, false},
		{"NA total", "metrodl:10/NA", 0, false},
		{"unrelated line", "[download] Destination: audio.mp3", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseProgressLine(tt.line)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseProgressLine(%q) = (%d, %v), want (%d, %v)", tt.line, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveOutputExactMatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "audio.mp3")
	if err := os.WriteFile(target, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := resolveOutput(target)
	if err != nil {
		t.Fatalf("resolveOutput: %v", err)
	}
	if got != target {
		t.Errorf("resolved %q, want %q", got, target)
	}
}

func TestResolveOutputRenamesVariantExtension(t *testing.T) {
	// yt-dlp sometimes leaves the file with the source extension; the
	// adapter renames it into place instead of failing.
	dir := t.TempDir()
	variant := filepath.Join(dir, "audio.m4a")
	if err := os.WriteFile(variant, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "audio.mp3")
	got, err := resolveOutput(target)
	if err != nil {
		t.Fatalf("resolveOutput: %v", err)
	}
	if got != target {
		t.Errorf("resolved %q, want %q", got, target)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
	if _, err := os.Stat(variant); !os.IsNotExist(err) {
		t.Error("variant file should have been renamed away")
	}
}

func TestResolveOutputNothingFound(t *testing.T) {
	target := filepath.Join(t.TempDir(), "audio.mp3")
	if _, err := resolveOutput(target); err == nil {
		t.Error("expected an error when no file materialized")
	}
}

func TestFetchMetadataEmptyURL(t *testing.T) {
	f := NewFetcher("yt-dlp")

	_, err := f.FetchMetadata(context.Background(), "   ")
	var verr *mderrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !errors.Is(err, mderrors.ErrEmptyURL) {
		t.Errorf("expected ErrEmptyURL, got %v", err)
	}
}

func TestFetchAudioEmptyURL(t *testing.T) {
	f := NewFetcher("yt-dlp")

	_, err := f.FetchAudio(context.Background(), "", "out.mp3", nil)
	if !errors.Is(err, mderrors.ErrEmptyURL) {
		t.Errorf("expected ErrEmptyURL, got %v", err)
	}
}

func TestTitleFromTagsMissingFile(t *testing.T) {
	if got := TitleFromTags("/nonexistent/file.mp3"); got != "" {
		t.Errorf("expected empty title, got %q", got)
	}
}
