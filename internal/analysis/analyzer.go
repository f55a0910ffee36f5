package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/logger"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

// Result is the outcome of analyzing one audio asset.
type Result struct {
	BPM      float64
	Duration float64
	Grids    *GridSet
}

// Analyzer estimates tempo and builds beat grids from a local audio
// file.
type Analyzer struct{}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze decodes the asset at its native rate, estimates the tempo and
// derives the three tempo-variant beat grids. The asset file must exist
// and be non-empty at call time.
func (a *Analyzer) Analyze(asset *api.AudioAsset) (*Result, error) {
	if asset == nil || asset.Path == "" {
		return nil, &mderrors.AnalysisError{Err: mderrors.ErrNoAsset}
	}
	if !IsSupported(asset.Path) {
		return nil, &mderrors.AnalysisError{
			Path: asset.Path,
			Err:  fmt.Errorf("%w: %s", mderrors.ErrInvalidFormat, filepath.Ext(asset.Path)),
		}
	}
	fi, err := os.Stat(asset.Path)
	if err != nil {
		return nil, &mderrors.AnalysisError{Path: asset.Path, Err: err}
	}
	if fi.Size() == 0 {
		return nil, &mderrors.AnalysisError{Path: asset.Path, Err: mderrors.ErrEmptyDownload}
	}

	buf, err := DecodeFile(asset.Path)
	if err != nil {
		return nil, err
	}

	duration := buf.Duration()
	bpm, err := EstimateTempo(buf.Mono(), buf.Rate)
	if err != nil {
		return nil, err
	}

	grids, err := NewGridSet(bpm, duration)
	if err != nil {
		return nil, &mderrors.AnalysisError{Path: asset.Path, Err: err}
	}

	logger.Info("analysis complete",
		logger.String("path", asset.Path),
		logger.Float64("bpm", bpm),
		logger.Float64("duration", duration))

	return &Result{BPM: bpm, Duration: duration, Grids: grids}, nil
}
