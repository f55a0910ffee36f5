package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/carvidal/metrodl/internal/acquire"
	"github.com/carvidal/metrodl/internal/analysis"
	"github.com/carvidal/metrodl/internal/config"
	"github.com/carvidal/metrodl/internal/logger"
	"github.com/carvidal/metrodl/internal/mix"
	"github.com/carvidal/metrodl/internal/playback"
	"github.com/carvidal/metrodl/internal/session"
	"github.com/carvidal/metrodl/pkg/events"
)

// NewRouter wires the API routes for a session.
func NewRouter(h *APIHandler) *mux.Router {
	r := mux.NewRouter()
	apiRouter := r.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/info", h.InfoHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/analyze", h.AnalyzeHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/preview", h.PreviewHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/playback/pause", h.PausePlaybackHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/playback/resume", h.ResumePlaybackHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/playback/stop", h.StopPlaybackHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/export", h.ExportHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/download", h.DownloadHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/tempo", h.TempoHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/volume", h.VolumeHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/volume/music", h.MusicVolumeHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/bpm", h.BPMHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/cleanup", h.CleanupHandler).Methods(http.MethodPost)

	r.HandleFunc("/ws/progress", h.ProgressHandler)
	return r
}

// Start builds the full pipeline stack from configuration and serves
// the HTTP API until SIGINT/SIGTERM.
func Start(cfg *config.Config) error {
	bus := events.NewBus()
	defer bus.Close()

	sess := session.New(
		acquire.NewFetcher(cfg.YtDlpPath),
		analysis.NewAnalyzer(),
		playback.NewEngine(),
		mix.NewExporter(cfg.FFmpegPath),
		bus,
		session.Options{
			DownloadDir:     cfg.DownloadDir,
			PreviewWindowMS: cfg.PreviewWindowMS,
			DefaultVolumeDB: cfg.DefaultVolumeDB,
		},
	)
	defer sess.Cleanup()

	handler := NewAPIHandler(sess, bus)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
