package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrEmptyURL       = errors.New("source URL is empty")
	ErrNoMetadata     = errors.New("no metadata fetched for this session")
	ErrNoAsset        = errors.New("no audio asset available")
	ErrNoBeatGrid     = errors.New("no beat grid computed")
	ErrInvalidBPM     = errors.New("manual BPM must be greater than zero")
	ErrInvalidFormat  = errors.New("unsupported audio format")
	ErrInvalidVolume  = errors.New("metronome volume must be between -40 and 0 dB")
	ErrEmptyDownload  = errors.New("downloaded audio file is empty")
	ErrAlreadyRunning = errors.New("a pipeline run is already in progress")
)

// ValidationError reports rejected user input before any work starts.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AcquisitionError wraps failures while fetching metadata or audio from
// the source service. Acquisition is all-or-nothing; there is no
// partial/resumable state behind one of these.
type AcquisitionError struct {
	Op  string // "metadata", "download", "copy"
	URL string
	Err error
}

func (e *AcquisitionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("acquisition %s failed for %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("acquisition %s failed: %v", e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// AnalysisError wraps decode or tempo-estimation failures.
type AnalysisError struct {
	Path string
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed for %s: %v", e.Path, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ExportError wraps mix/serialize failures.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export to %s failed: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// PlaybackError wraps device or codec failures during preview playback.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s failed: %v", e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// NewValidation is a shorthand for building a ValidationError.
func NewValidation(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
