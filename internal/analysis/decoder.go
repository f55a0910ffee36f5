package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

// Buffer holds fully decoded audio at its native sample rate.
type Buffer struct {
	Samples [][2]float64
	Rate    int
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.Rate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.Rate)
}

// Mono folds the stereo buffer down to a single channel.
func (b *Buffer) Mono() []float64 {
	mono := make([]float64, len(b.Samples))
	for i, s := range b.Samples {
		mono[i] = (s[0] + s[1]) / 2
	}
	return mono
}

// SupportedFormats lists the file extensions a decoder exists for.
func SupportedFormats() []string {
	return []string{".mp3", ".wav", ".flac"}
}

// IsSupported reports whether the file's extension maps to a decoder.
// Checked before decoding so an unsupported download fails up front.
func IsSupported(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// OpenStream opens an audio file and returns a streaming decoder chosen
// by extension. The caller owns the streamer and must close it.
func OpenStream(filePath string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, beep.Format{}, err
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	var streamer beep.StreamSeekCloser
	var format beep.Format
	switch ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("%w: %s", mderrors.ErrInvalidFormat, ext)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, err
	}
	return streamer, format, nil
}

// DecodeFile decodes a whole audio file into memory at its native
// sample rate. No resampling is applied.
func DecodeFile(filePath string) (*Buffer, error) {
	streamer, format, err := OpenStream(filePath)
	if err != nil {
		return nil, &mderrors.AnalysisError{Path: filePath, Err: err}
	}
	defer streamer.Close()

	buf := &Buffer{Rate: int(format.SampleRate)}
	chunk := make([][2]float64, 2048)
	for {
		n, ok := streamer.Stream(chunk)
		buf.Samples = append(buf.Samples, chunk[:n]...)
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, &mderrors.AnalysisError{Path: filePath, Err: err}
	}
	if len(buf.Samples) == 0 {
		return nil, &mderrors.AnalysisError{Path: filePath, Err: fmt.Errorf("decoded signal is empty")}
	}
	return buf, nil
}
