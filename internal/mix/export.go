package mix

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/google/uuid"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/analysis"
	"github.com/carvidal/metrodl/internal/click"
	"github.com/carvidal/metrodl/internal/logger"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

// Exporter overlays a click track onto decoded audio and serializes the
// result. WAV is written directly; ".mp3" targets are transcoded with
// ffmpeg after the WAV render.
type Exporter struct {
	ffmpegPath string
}

// NewExporter creates an Exporter using the given ffmpeg binary.
func NewExporter(ffmpegPath string) *Exporter {
	return &Exporter{ffmpegPath: ffmpegPath}
}

// ExportWithClick mixes the full click plan into the full-length audio
// and writes it to outPath. Progress is reported as stamped-beat-count
// over total, scaled to 0-100; it reaches exactly 100 on success.
func (e *Exporter) ExportWithClick(asset *api.AudioAsset, grid *api.BeatGrid, volumeDB float64, outPath string, onProgress func(int)) error {
	if asset == nil || asset.Path == "" {
		return &mderrors.ExportError{Path: outPath, Err: mderrors.ErrNoAsset}
	}
	if grid == nil {
		return &mderrors.ExportError{Path: outPath, Err: mderrors.ErrNoBeatGrid}
	}

	buf, err := analysis.DecodeFile(asset.Path)
	if err != nil {
		return &mderrors.ExportError{Path: outPath, Err: err}
	}

	stampAll(buf, grid.Beats, volumeDB, onProgress)

	wavPath := outPath
	transcode := strings.EqualFold(filepath.Ext(outPath), ".mp3")
	if transcode {
		wavPath = strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".tmp.wav"
		defer os.Remove(wavPath)
	}

	if err := writeWAV(wavPath, buf); err != nil {
		return &mderrors.ExportError{Path: outPath, Err: err}
	}
	if transcode {
		if err := e.transcodeToMP3(wavPath, outPath); err != nil {
			return &mderrors.ExportError{Path: outPath, Err: err}
		}
	}

	logger.Info("export complete",
		logger.String("path", outPath),
		logger.Int("beats", len(grid.Beats)))

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// RenderPreview truncates the audio to at most windowMS, overlays only
// the beats falling inside that window, and writes the result to a
// scratch WAV inside scratchDir. The caller owns the returned file and
// must track it for cleanup.
func RenderPreview(asset *api.AudioAsset, grid *api.BeatGrid, volumeDB float64, windowMS int, scratchDir string) (string, error) {
	if asset == nil || asset.Path == "" {
		return "", &mderrors.PlaybackError{Op: "preview", Err: mderrors.ErrNoAsset}
	}
	if grid == nil {
		return "", &mderrors.PlaybackError{Op: "preview", Err: mderrors.ErrNoBeatGrid}
	}
	if windowMS <= 0 || windowMS > 10000 {
		windowMS = 10000
	}

	buf, err := analysis.DecodeFile(asset.Path)
	if err != nil {
		return "", &mderrors.PlaybackError{Op: "preview", Err: err}
	}

	windowSec := float64(windowMS) / 1000
	maxSamples := int(windowSec * float64(buf.Rate))
	if len(buf.Samples) > maxSamples {
		buf.Samples = buf.Samples[:maxSamples]
	}

	// Beats at or past the window edge are excluded entirely.
	var inWindow []float64
	for _, b := range grid.Beats {
		if b < buf.Duration() {
			inWindow = append(inWindow, b)
		}
	}
	stampAll(buf, inWindow, volumeDB, nil)

	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return "", &mderrors.PlaybackError{Op: "preview", Err: err}
	}
	out := filepath.Join(scratchDir, "preview-"+uuid.NewString()+".wav")
	if err := writeWAV(out, buf); err != nil {
		return "", &mderrors.PlaybackError{Op: "preview", Err: err}
	}
	return out, nil
}

// stampAll overlays the click at every beat and clamps the mixed signal
// back into [-1, 1].
func stampAll(buf *analysis.Buffer, beats []float64, volumeDB float64, onProgress func(int)) {
	tone := click.Synthesize(volumeDB, buf.Rate)
	total := len(beats)
	for i, beat := range beats {
		click.Stamp(buf.Samples, tone, []float64{beat}, buf.Rate)
		if onProgress != nil && total > 0 {
			onProgress(i * 100 / total)
		}
	}
	for i := range buf.Samples {
		buf.Samples[i][0] = clamp(buf.Samples[i][0])
		buf.Samples[i][1] = clamp(buf.Samples[i][1])
	}
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// bufferStreamer adapts an in-memory sample buffer to beep.Streamer for
// WAV encoding.
type bufferStreamer struct {
	samples [][2]float64
	pos     int
}

func (b *bufferStreamer) Stream(samples [][2]float64) (int, bool) {
	if b.pos >= len(b.samples) {
		return 0, false
	}
	n := copy(samples, b.samples[b.pos:])
	b.pos += n
	return n, true
}

func (b *bufferStreamer) Err() error { return nil }

func writeWAV(path string, buf *analysis.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	format := beep.Format{
		SampleRate:  beep.SampleRate(buf.Rate),
		NumChannels: 2,
		Precision:   2,
	}
	return wav.Encode(f, &bufferStreamer{samples: buf.Samples}, format)
}

func (e *Exporter) transcodeToMP3(inPath, outPath string) error {
	args := []string{"-y", "-i", inPath, "-c:a", "libmp3lame", "-b:a", "192k", outPath}
	cmd := exec.Command(e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
