package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/acquire"
	"github.com/carvidal/metrodl/internal/analysis"
	"github.com/carvidal/metrodl/internal/click"
	"github.com/carvidal/metrodl/internal/logger"
	"github.com/carvidal/metrodl/internal/mix"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
	"github.com/carvidal/metrodl/pkg/events"
)

// Acquirer fetches metadata and audio for a source URL.
type Acquirer interface {
	FetchMetadata(ctx context.Context, url string) (*api.MediaMetadata, error)
	FetchAudio(ctx context.Context, url, targetPath string, onProgress func(int)) (*api.AudioAsset, error)
	DownloadClean(ctx context.Context, url, destDir, title string) (string, error)
}

// Analyzer estimates tempo and builds beat grids from an audio asset.
type Analyzer interface {
	Analyze(asset *api.AudioAsset) (*analysis.Result, error)
}

// Player plays audio through the output device.
type Player interface {
	PlayFile(path string, done func()) error
	PlayLive(path string, beats []float64, volumeDB float64, done func()) error
	Pause()
	Resume()
	Stop()
	IsPlaying() bool
	SetMusicVolume(level float64)
}

// Exporter writes the mixed audio to a file.
type Exporter interface {
	ExportWithClick(asset *api.AudioAsset, grid *api.BeatGrid, volumeDB float64, outPath string, onProgress func(int)) error
}

// Options configures a Session.
type Options struct {
	DownloadDir     string
	PreviewWindowMS int
	DefaultVolumeDB float64
	ExportExt       string // ".mp3" or ".wav"
}

// Session is the single-owner mutable aggregate driving the pipeline:
// URL, fetched metadata, the downloaded asset, the tempo-variant beat
// grids and all transient flags. Pipeline stages run on background
// workers and report back through typed events; every mutation of
// user-visible state happens under one mutex so callers never observe a
// half-written aggregate.
type Session struct {
	mu sync.Mutex

	acquirer Acquirer
	analyzer Analyzer
	player   Player
	exporter Exporter
	bus      *events.Bus
	opts     Options

	// renderPreview is swappable for tests.
	renderPreview func(asset *api.AudioAsset, grid *api.BeatGrid, volumeDB float64, windowMS int, scratchDir string) (string, error)

	phase       api.SessionPhase
	url         string
	metadata    *api.MediaMetadata
	asset       *api.AudioAsset
	grids       *analysis.GridSet
	tempoOption api.TempoOption
	duration    float64
	volumeDB    float64
	musicVolume float64

	status       string
	progress     int
	isProcessing bool
	isPlaying    bool
	isPaused     bool

	tempDir string
	scratch []string
}

// New creates an idle session.
func New(acquirer Acquirer, analyzer Analyzer, player Player, exporter Exporter, bus *events.Bus, opts Options) *Session {
	if opts.PreviewWindowMS <= 0 || opts.PreviewWindowMS > 10000 {
		opts.PreviewWindowMS = 10000
	}
	if opts.ExportExt == "" {
		opts.ExportExt = ".mp3"
	}
	return &Session{
		acquirer:      acquirer,
		analyzer:      analyzer,
		player:        player,
		exporter:      exporter,
		bus:           bus,
		opts:          opts,
		renderPreview: mix.RenderPreview,
		phase:         api.PhaseIdle,
		tempoOption:   api.TempoNormal,
		volumeDB:      click.ClampVolume(opts.DefaultVolumeDB),
		musicVolume:   0.5,
	}
}

// Snapshot returns an atomic copy of the user-visible state.
func (s *Session) Snapshot() api.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := api.SessionSnapshot{
		Phase:        s.phase,
		URL:          s.url,
		Metadata:     s.metadata,
		TempoOption:  s.tempoOption,
		Duration:     s.duration,
		VolumeDB:     s.volumeDB,
		MusicVolume:  s.musicVolume,
		Status:       s.status,
		Progress:     s.progress,
		IsProcessing: s.isProcessing,
		IsPlaying:    s.isPlaying,
		IsPaused:     s.isPaused,
	}
	if s.grids != nil {
		snap.BPM = s.grids.Normal.BPM
		snap.HalfBPM = s.grids.Half.BPM
		snap.DoubleBPM = s.grids.Double.BPM
		snap.BeatCount = len(s.activeGridLocked().Beats)
	}
	return snap
}

// FetchInfo fetches title and thumbnail for the URL without downloading
// media. Synchronous; it is a quick metadata-only call.
func (s *Session) FetchInfo(ctx context.Context, url string) error {
	if url == "" {
		s.setStatus("Por favor, ingresa una URL válida.")
		return mderrors.NewValidation("url", mderrors.ErrEmptyURL)
	}

	s.setStatus("Obteniendo información del video...")
	meta, err := s.acquirer.FetchMetadata(ctx, url)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.url = url
	s.metadata = meta
	if s.phase == api.PhaseIdle {
		s.phase = api.PhaseMetadataFetched
	}
	s.status = "Información del video obtenida. Listo para analizar."
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(api.PipelineEvent{Type: api.EventMetadata, Metadata: meta})
	}
	s.publishStatus()
	return nil
}

// Analyze runs the acquisition and analysis pipeline in the background:
// download the audio into the session temp dir, decode it, estimate the
// tempo and commit the three beat-grid variants. Only one run may be in
// flight at a time; re-running after a failure is always legal.
func (s *Session) Analyze(ctx context.Context, url string) error {
	if url == "" {
		s.setStatus("Por favor, ingresa una URL válida.")
		return mderrors.NewValidation("url", mderrors.ErrEmptyURL)
	}

	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		return mderrors.ErrAlreadyRunning
	}
	s.isProcessing = true
	s.progress = 0
	s.url = url
	s.mu.Unlock()

	ch := make(chan api.PipelineEvent, 16)
	go s.consume(ch)
	go s.analyzeWorker(ctx, url, ch)
	return nil
}

// analyzeWorker is the background unit of work. It never touches the
// session directly; all results flow back as typed events.
func (s *Session) analyzeWorker(ctx context.Context, url string, ch chan<- api.PipelineEvent) {
	defer close(ch)

	tempDir, err := os.MkdirTemp("", "metrodl-")
	if err != nil {
		ch <- api.PipelineEvent{Type: api.EventError, Err: &mderrors.AcquisitionError{Op: "download", URL: url, Err: err}}
		return
	}
	s.mu.Lock()
	prev := s.tempDir
	s.tempDir = tempDir
	s.mu.Unlock()
	// Each run owns exactly one temp dir; the previous run's dir goes
	// away now rather than piling up until Cleanup.
	if prev != "" {
		if err := os.RemoveAll(prev); err != nil {
			logger.Warn("previous temp dir removal failed", logger.String("dir", prev), logger.ErrorField(err))
		}
	}

	ch <- api.PipelineEvent{Type: api.EventStatus, Status: "Descargando audio para análisis..."}

	target := filepath.Join(tempDir, "audio.mp3")
	asset, err := s.acquirer.FetchAudio(ctx, url, target, func(pct int) {
		// Reserve the tail of the progress bar for analysis.
		ch <- api.PipelineEvent{Type: api.EventProgress, Percent: pct * 90 / 100}
	})
	if err != nil {
		ch <- api.PipelineEvent{Type: api.EventError, Err: err}
		return
	}
	ch <- api.PipelineEvent{Type: api.EventAssetReady, Asset: asset}
	ch <- api.PipelineEvent{Type: api.EventStatus, Status: "Analizando el audio..."}

	result, err := s.analyzer.Analyze(asset)
	if err != nil {
		ch <- api.PipelineEvent{Type: api.EventError, Err: err}
		return
	}

	ch <- api.PipelineEvent{Type: api.EventGridReady, Grid: result.Grids.Normal}
	ch <- api.PipelineEvent{Type: api.EventProgress, Percent: 100}
	ch <- api.PipelineEvent{
		Type:   api.EventStatus,
		Status: fmt.Sprintf("Análisis completado. BPM: %.2f", result.BPM),
	}

	s.commitAnalysis(asset, result)
}

// commitAnalysis is the single commit point for a successful analysis
// run: asset, duration and all three grids land atomically.
func (s *Session) commitAnalysis(asset *api.AudioAsset, result *analysis.Result) {
	s.mu.Lock()
	asset.Duration = result.Duration
	s.asset = asset
	s.duration = result.Duration
	s.grids = result.Grids
	s.tempoOption = api.TempoNormal
	s.phase = api.PhaseAnalyzed
	s.mu.Unlock()
}

// consume applies worker events to the session. Progress only moves
// forward within a run; flags are always cleared when the run ends.
func (s *Session) consume(ch <-chan api.PipelineEvent) {
	failed := false
	for ev := range ch {
		s.mu.Lock()
		switch ev.Type {
		case api.EventStatus:
			s.status = ev.Status
		case api.EventProgress:
			if ev.Percent > s.progress {
				s.progress = ev.Percent
			}
		case api.EventAssetReady:
			s.asset = ev.Asset
			if s.phase == api.PhaseIdle || s.phase == api.PhaseMetadataFetched {
				s.phase = api.PhaseAudioAcquired
			}
		case api.EventError:
			failed = true
			s.status = "Error: " + ev.Err.Error()
			logger.Error("pipeline failed", logger.ErrorField(ev.Err))
		}
		s.mu.Unlock()
		if s.bus != nil {
			s.bus.Publish(ev)
		}
	}

	s.mu.Lock()
	s.isProcessing = false
	if failed && s.phase == api.PhaseExporting {
		s.phase = api.PhaseAnalyzed
	}
	s.mu.Unlock()
}

func (s *Session) activeGridLocked() *api.BeatGrid {
	return s.grids.Select(s.tempoOption)
}

// ActiveGrid returns a copy of the currently selected beat grid, or nil
// before analysis.
func (s *Session) ActiveGrid() *api.BeatGrid {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grids == nil {
		return nil
	}
	g := *s.activeGridLocked()
	return &g
}

// SetTempoOption switches among slow/normal/fast. Idempotent: selecting
// the same option twice yields an identical grid.
func (s *Session) SetTempoOption(opt api.TempoOption) error {
	switch opt {
	case api.TempoSlow, api.TempoNormal, api.TempoFast:
	default:
		return mderrors.NewValidation("tempo_option", fmt.Errorf("unknown option %q", opt))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grids == nil {
		return mderrors.ErrNoBeatGrid
	}
	s.tempoOption = opt
	s.status = fmt.Sprintf("Tempo: %.2f BPM", s.activeGridLocked().BPM)
	return nil
}

// SetManualBPM replaces the detected tempo with a manual value and
// regenerates all grids by the uniform-spacing rule. Values <= 0 are
// rejected and leave the session unchanged.
func (s *Session) SetManualBPM(bpm float64) error {
	if bpm <= 0 {
		s.setStatus("Por favor, ingresa un valor válido de BPM antes de usar.")
		return mderrors.NewValidation("manual_bpm", mderrors.ErrInvalidBPM)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grids == nil || s.duration <= 0 {
		return mderrors.ErrNoBeatGrid
	}

	grids, err := analysis.NewGridSet(bpm, s.duration)
	if err != nil {
		return err
	}
	s.grids = grids
	s.tempoOption = api.TempoNormal
	s.status = fmt.Sprintf("BPM manual establecido: %g", bpm)
	return nil
}

// SetVolume sets the metronome gain in dB, range -40..0.
func (s *Session) SetVolume(db float64) error {
	if db < click.MinVolumeDB || db > click.MaxVolumeDB {
		return mderrors.NewValidation("volume_db", mderrors.ErrInvalidVolume)
	}
	s.mu.Lock()
	s.volumeDB = db
	s.mu.Unlock()
	return nil
}

// SetMusicVolume sets the music playback loudness on a 0-1 scale.
// Applies immediately to active playback.
func (s *Session) SetMusicVolume(level float64) error {
	if level < 0 || level > 1 {
		return mderrors.NewValidation("music_volume", mderrors.ErrInvalidVolume)
	}
	s.mu.Lock()
	s.musicVolume = level
	s.mu.Unlock()
	s.player.SetMusicVolume(level)
	return nil
}

// Preview renders the first preview window of the mix to a scratch file
// and plays it. The scratch file is recorded for cleanup.
func (s *Session) Preview() error {
	s.mu.Lock()
	if s.grids == nil || s.asset == nil {
		s.mu.Unlock()
		s.setStatus("Por favor, analiza el audio primero.")
		return mderrors.ErrNoBeatGrid
	}
	asset := s.asset
	grid := s.activeGridLocked()
	volumeDB := s.volumeDB
	scratchDir := s.tempDir
	windowMS := s.opts.PreviewWindowMS
	s.mu.Unlock()

	path, err := s.renderPreview(asset, grid, volumeDB, windowMS, scratchDir)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.scratch = append(s.scratch, path)
	s.mu.Unlock()

	if err := s.player.PlayFile(path, s.playbackDone); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.isPlaying = true
	s.isPaused = false
	s.phase = api.PhasePreviewing
	s.status = "Reproduciendo con metrónomo..."
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(api.PipelineEvent{Type: api.EventPlaybackStarted})
	}
	s.publishStatus()
	return nil
}

// PlayLive plays the full untouched audio with the metronome stamped in
// real time, without re-encoding anything.
func (s *Session) PlayLive() error {
	s.mu.Lock()
	if s.grids == nil || s.asset == nil {
		s.mu.Unlock()
		s.setStatus("Por favor, analiza el audio primero.")
		return mderrors.ErrNoBeatGrid
	}
	path := s.asset.Path
	beats := s.activeGridLocked().Beats
	volumeDB := s.volumeDB
	s.mu.Unlock()

	if err := s.player.PlayLive(path, beats, volumeDB, s.playbackDone); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.isPlaying = true
	s.isPaused = false
	s.phase = api.PhasePreviewing
	s.status = "Reproduciendo con metrónomo..."
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(api.PipelineEvent{Type: api.EventPlaybackStarted})
	}
	s.publishStatus()
	return nil
}

// PausePlayback suspends active playback without losing the position.
// No-op when nothing is playing or playback is already paused.
func (s *Session) PausePlayback() {
	s.mu.Lock()
	if !s.isPlaying || s.isPaused {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.player.Pause()
	s.mu.Lock()
	s.isPaused = true
	s.status = "Reproducción pausada."
	s.mu.Unlock()
	s.publishStatus()
}

// ResumePlayback continues playback paused by PausePlayback.
func (s *Session) ResumePlayback() {
	s.mu.Lock()
	if !s.isPlaying || !s.isPaused {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.player.Resume()
	s.mu.Lock()
	s.isPaused = false
	s.status = "Reproduciendo con metrónomo..."
	s.mu.Unlock()
	s.publishStatus()
}

// StopPlayback stops any active playback.
func (s *Session) StopPlayback() {
	s.player.Stop()
	s.mu.Lock()
	s.isPlaying = false
	s.isPaused = false
	if s.phase == api.PhasePreviewing {
		s.phase = api.PhaseAnalyzed
	}
	s.status = "Reproducción detenida."
	s.mu.Unlock()
	s.publishStatus()
}

func (s *Session) playbackDone() {
	s.mu.Lock()
	s.isPlaying = false
	s.isPaused = false
	if s.phase == api.PhasePreviewing {
		s.phase = api.PhaseAnalyzed
	}
	s.status = "Reproducción finalizada."
	s.mu.Unlock()
	s.publishStatus()
	if s.bus != nil {
		s.bus.Publish(api.PipelineEvent{Type: api.EventPlaybackStopped})
	}
}

// Export mixes the full click plan into the full audio and writes
// "<title>_with_metronome<ext>" under the download directory. Runs in
// the background; progress is the stamped-beat fraction.
func (s *Session) Export() error {
	s.mu.Lock()
	if s.grids == nil || s.asset == nil {
		s.mu.Unlock()
		s.setStatus("Por favor, analiza el audio primero.")
		return mderrors.ErrNoBeatGrid
	}
	if s.isProcessing {
		s.mu.Unlock()
		return mderrors.ErrAlreadyRunning
	}
	s.isProcessing = true
	s.progress = 0
	s.phase = api.PhaseExporting
	asset := s.asset
	grid := s.activeGridLocked()
	volumeDB := s.volumeDB
	outPath := filepath.Join(s.opts.DownloadDir, s.titleLocked()+"_with_metronome"+s.opts.ExportExt)
	s.mu.Unlock()

	ch := make(chan api.PipelineEvent, 16)
	go s.consume(ch)
	go func() {
		defer close(ch)
		ch <- api.PipelineEvent{Type: api.EventStatus, Status: "Exportando con metrónomo..."}
		err := s.exporter.ExportWithClick(asset, grid, volumeDB, outPath, func(pct int) {
			ch <- api.PipelineEvent{Type: api.EventProgress, Percent: pct}
		})
		if err != nil {
			ch <- api.PipelineEvent{Type: api.EventError, Err: err}
			return
		}
		ch <- api.PipelineEvent{Type: api.EventProgress, Percent: 100}
		ch <- api.PipelineEvent{Type: api.EventStatus, Status: "¡Exportación completada!"}

		s.mu.Lock()
		s.phase = api.PhaseAnalyzed
		s.mu.Unlock()
	}()
	return nil
}

// DownloadClean downloads the untouched audio as "<title>_clean.<ext>"
// into the download directory.
func (s *Session) DownloadClean(ctx context.Context) error {
	s.mu.Lock()
	if s.metadata == nil {
		s.mu.Unlock()
		s.setStatus("Por favor, obtén la información del video primero.")
		return mderrors.ErrNoMetadata
	}
	url := s.url
	title := s.titleLocked()
	dir := s.opts.DownloadDir
	s.mu.Unlock()

	s.setStatus(fmt.Sprintf("Descargando: %s", title))
	if _, err := s.acquirer.DownloadClean(ctx, url, dir, title); err != nil {
		s.fail(err)
		return err
	}
	s.setStatus("¡Descarga completada!")
	return nil
}

// Cleanup deletes the temp directory and every tracked scratch file and
// resets the session to idle. Callable from any state and idempotent;
// deletion failures are logged and retried on the next pass rather than
// surfaced.
func (s *Session) Cleanup() {
	s.player.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []string
	for _, path := range s.scratch {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("scratch file removal failed, will retry",
				logger.String("path", path), logger.ErrorField(err))
			kept = append(kept, path)
		}
	}
	s.scratch = kept

	if s.tempDir != "" {
		if err := os.RemoveAll(s.tempDir); err != nil {
			logger.Warn("temp dir removal failed", logger.String("dir", s.tempDir), logger.ErrorField(err))
		}
		s.tempDir = ""
	}

	s.phase = api.PhaseIdle
	s.url = ""
	s.metadata = nil
	s.asset = nil
	s.grids = nil
	s.duration = 0
	s.tempoOption = api.TempoNormal
	s.progress = 0
	s.isProcessing = false
	s.isPlaying = false
	s.isPaused = false
	s.status = ""
}

func (s *Session) titleLocked() string {
	if s.metadata != nil && s.metadata.Title != "" {
		return s.metadata.Title
	}
	if s.asset != nil {
		if title := acquire.TitleFromTags(s.asset.Path); title != "" {
			return title
		}
	}
	return "audio"
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.publishStatus()
}

// fail converts a component error into a status message and clears the
// transient flags; already-acquired data stays intact for retry.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.status = "Error: " + err.Error()
	s.isProcessing = false
	s.isPlaying = false
	s.isPaused = false
	if s.phase == api.PhasePreviewing || s.phase == api.PhaseExporting {
		s.phase = api.PhaseAnalyzed
	}
	s.mu.Unlock()
	logger.Error("session operation failed", logger.ErrorField(err))
	if s.bus != nil {
		s.bus.Publish(api.PipelineEvent{Type: api.EventError, Err: err})
	}
}

func (s *Session) publishStatus() {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	s.bus.Publish(api.PipelineEvent{Type: api.EventStatus, Status: status})
}
