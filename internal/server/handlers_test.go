package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/analysis"
	"github.com/carvidal/metrodl/internal/session"
	"github.com/carvidal/metrodl/pkg/events"
)

type stubAcquirer struct{}

func (stubAcquirer) FetchMetadata(ctx context.Context, url string) (*api.MediaMetadata, error) {
	return &api.MediaMetadata{Title: "Stub", ThumbnailURL: "http://x/t.jpg"}, nil
}

func (stubAcquirer) FetchAudio(ctx context.Context, url, targetPath string, onProgress func(int)) (*api.AudioAsset, error) {
	if onProgress != nil {
		onProgress(100)
	}
	return &api.AudioAsset{Path: targetPath}, nil
}

func (stubAcquirer) DownloadClean(ctx context.Context, url, destDir, title string) (string, error) {
	return destDir + "/" + title + "_clean.mp3", nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(asset *api.AudioAsset) (*analysis.Result, error) {
	grids, err := analysis.NewGridSet(120, 10.0)
	if err != nil {
		return nil, err
	}
	return &analysis.Result{BPM: 120, Duration: 10.0, Grids: grids}, nil
}

type stubPlayer struct{}

func (stubPlayer) PlayFile(path string, done func()) error { return nil }
func (stubPlayer) PlayLive(path string, beats []float64, volumeDB float64, done func()) error {
	return nil
}
func (stubPlayer) Pause()                       {}
func (stubPlayer) Resume()                      {}
func (stubPlayer) Stop()                        {}
func (stubPlayer) IsPlaying() bool              { return false }
func (stubPlayer) SetMusicVolume(level float64) {}

type stubExporter struct{}

func (stubExporter) ExportWithClick(asset *api.AudioAsset, grid *api.BeatGrid, volumeDB float64, outPath string, onProgress func(int)) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Session) {
	t.Helper()
	bus := events.NewBus()
	sess := session.New(stubAcquirer{}, stubAnalyzer{}, stubPlayer{}, stubExporter{}, bus, session.Options{
		DownloadDir: t.TempDir(),
	})
	t.Cleanup(sess.Cleanup)

	srv := httptest.NewServer(NewRouter(NewAPIHandler(sess, bus)))
	t.Cleanup(srv.Close)
	return srv, sess
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) api.SessionSnapshot {
	t.Helper()
	defer resp.Body.Close()
	var snap api.SessionSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decodeSnapshot(t, resp)
	assert.Equal(t, api.PhaseIdle, snap.Phase)
	assert.False(t, snap.IsProcessing)
}

func TestInfoEndpointEmptyURL(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/info", map[string]string{"url": ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, sess := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/analyze", map[string]string{"url": "https://example.com/v"})
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	deadline := time.Now().Add(2 * time.Second)
	for sess.Snapshot().IsProcessing {
		require.False(t, time.Now().After(deadline), "pipeline did not finish")
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, api.PhaseAnalyzed, snap.Phase)
	assert.Equal(t, 120.0, snap.BPM)
	assert.Equal(t, 20, snap.BeatCount)
}

func TestBPMEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	// before analysis there is no grid to override
	resp := postJSON(t, srv.URL+"/api/bpm", map[string]float64{"bpm": 100})
	resp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestBPMEndpointRejectsNonPositive(t *testing.T) {
	srv, sess := newTestServer(t)
	require.NoError(t, sess.Analyze(context.Background(), "https://example.com/v"))
	deadline := time.Now().Add(2 * time.Second)
	for sess.Snapshot().IsProcessing {
		require.False(t, time.Now().After(deadline))
		time.Sleep(5 * time.Millisecond)
	}

	resp := postJSON(t, srv.URL+"/api/bpm", map[string]float64{"bpm": -3})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/bpm", map[string]float64{"bpm": 90})
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, 90.0, snap.BPM)
}

func TestTempoEndpoint(t *testing.T) {
	srv, sess := newTestServer(t)
	require.NoError(t, sess.Analyze(context.Background(), "https://example.com/v"))
	deadline := time.Now().Add(2 * time.Second)
	for sess.Snapshot().IsProcessing {
		require.False(t, time.Now().After(deadline))
		time.Sleep(5 * time.Millisecond)
	}

	resp := postJSON(t, srv.URL+"/api/tempo", map[string]string{"option": "slow"})
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, api.TempoSlow, snap.TempoOption)
	assert.Equal(t, 10, snap.BeatCount)

	resp = postJSON(t, srv.URL+"/api/tempo", map[string]string{"option": "bogus"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVolumeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/volume", map[string]float64{"db": -12})
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, -12.0, snap.VolumeDB)

	resp = postJSON(t, srv.URL+"/api/volume", map[string]float64{"db": -80})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMusicVolumeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/volume/music", map[string]float64{"level": 0.8})
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, 0.8, snap.MusicVolume)

	resp = postJSON(t, srv.URL+"/api/volume/music", map[string]float64{"level": 1.5})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPauseResumeEndpointsIdle(t *testing.T) {
	srv, _ := newTestServer(t)

	// pausing and resuming with nothing playing is a harmless no-op
	resp := postJSON(t, srv.URL+"/api/playback/pause", struct{}{})
	snap := decodeSnapshot(t, resp)
	assert.False(t, snap.IsPaused)

	resp = postJSON(t, srv.URL+"/api/playback/resume", struct{}{})
	snap = decodeSnapshot(t, resp)
	assert.False(t, snap.IsPaused)
}

func TestCleanupEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	// cleanup from idle twice in a row is a harmless no-op
	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/api/cleanup", struct{}{})
		snap := decodeSnapshot(t, resp)
		assert.Equal(t, api.PhaseIdle, snap.Phase)
	}
}

func TestPreviewEndpointBeforeAnalysis(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/preview", map[string]bool{"live": true})
	resp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}
