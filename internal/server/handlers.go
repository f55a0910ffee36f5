package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/session"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
	"github.com/carvidal/metrodl/pkg/events"
)

// APIHandler exposes the session operations over HTTP.
type APIHandler struct {
	session *session.Session
	bus     *events.Bus
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(s *session.Session, bus *events.Bus) *APIHandler {
	return &APIHandler{session: s, bus: bus}
}

type urlRequest struct {
	URL string `json:"url"`
}

type tempoRequest struct {
	Option api.TempoOption `json:"option"`
}

type bpmRequest struct {
	BPM float64 `json:"bpm"`
}

type volumeRequest struct {
	DB float64 `json:"db"`
}

type musicVolumeRequest struct {
	Level float64 `json:"level"`
}

type previewRequest struct {
	Live bool `json:"live"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error classes to HTTP statuses. Validation problems
// are the caller's fault; everything else is an upstream/internal
// failure already reflected in the session status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *mderrors.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, mderrors.ErrInvalidBPM),
		errors.Is(err, mderrors.ErrInvalidVolume):
		status = http.StatusBadRequest
	case errors.Is(err, mderrors.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, mderrors.ErrNoBeatGrid),
		errors.Is(err, mderrors.ErrNoMetadata),
		errors.Is(err, mderrors.ErrNoAsset):
		status = http.StatusPreconditionFailed
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// StatusHandler returns an atomic snapshot of the session.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// InfoHandler fetches title/thumbnail for a URL.
func (h *APIHandler) InfoHandler(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mderrors.NewValidation("body", err))
		return
	}
	if err := h.session.FetchInfo(r.Context(), req.URL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// AnalyzeHandler starts the background acquisition+analysis pipeline.
func (h *APIHandler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mderrors.NewValidation("body", err))
		return
	}
	// The pipeline outlives this request; it must not be bound to the
	// request context.
	if err := h.session.Analyze(context.Background(), req.URL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.session.Snapshot())
}

// PreviewHandler plays either a rendered <=10s preview or the full
// audio with live clicks.
func (h *APIHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var err error
	if req.Live {
		err = h.session.PlayLive()
	} else {
		err = h.session.Preview()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// PausePlaybackHandler pauses active playback in place.
func (h *APIHandler) PausePlaybackHandler(w http.ResponseWriter, r *http.Request) {
	h.session.PausePlayback()
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// ResumePlaybackHandler resumes paused playback.
func (h *APIHandler) ResumePlaybackHandler(w http.ResponseWriter, r *http.Request) {
	h.session.ResumePlayback()
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// StopPlaybackHandler stops any active playback.
func (h *APIHandler) StopPlaybackHandler(w http.ResponseWriter, r *http.Request) {
	h.session.StopPlayback()
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// ExportHandler starts the background mixed export.
func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Export(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.session.Snapshot())
}

// DownloadHandler downloads the untouched audio copy.
func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DownloadClean(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// TempoHandler switches among the slow/normal/fast variants.
func (h *APIHandler) TempoHandler(w http.ResponseWriter, r *http.Request) {
	var req tempoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mderrors.NewValidation("body", err))
		return
	}
	if err := h.session.SetTempoOption(req.Option); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// BPMHandler applies a manual BPM override.
func (h *APIHandler) BPMHandler(w http.ResponseWriter, r *http.Request) {
	var req bpmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mderrors.NewValidation("manual_bpm", err))
		return
	}
	if err := h.session.SetManualBPM(req.BPM); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// VolumeHandler sets the metronome gain in dB.
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mderrors.NewValidation("volume_db", err))
		return
	}
	if err := h.session.SetVolume(req.DB); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// MusicVolumeHandler sets the music playback loudness, 0-1.
func (h *APIHandler) MusicVolumeHandler(w http.ResponseWriter, r *http.Request) {
	var req musicVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mderrors.NewValidation("music_volume", err))
		return
	}
	if err := h.session.SetMusicVolume(req.Level); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// CleanupHandler deletes temp files and resets the session.
func (h *APIHandler) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	h.session.Cleanup()
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}
