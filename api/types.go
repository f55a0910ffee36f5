package api

// TempoOption selects which tempo variant drives the beat grid.
type TempoOption string

const (
	TempoSlow   TempoOption = "slow"   // half of the detected BPM
	TempoNormal TempoOption = "normal" // detected BPM as-is
	TempoFast   TempoOption = "fast"   // double the detected BPM
)

// SessionPhase is the lifecycle state of a session.
type SessionPhase string

const (
	PhaseIdle            SessionPhase = "idle"
	PhaseMetadataFetched SessionPhase = "metadata_fetched"
	PhaseAudioAcquired   SessionPhase = "audio_acquired"
	PhaseAnalyzed        SessionPhase = "analyzed"
	PhasePreviewing      SessionPhase = "previewing"
	PhaseExporting       SessionPhase = "exporting"
)

// MediaMetadata is the title/thumbnail pair fetched for a source URL
// without downloading the full media.
type MediaMetadata struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail"`
}

// AudioAsset is a downloaded audio file owned by the current session.
type AudioAsset struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"` // seconds
}

// BeatGrid holds one tempo variant and its uniformly spaced beat
// timestamps. Beats are sorted ascending and bounded by [0, Duration).
type BeatGrid struct {
	BPM      float64   `json:"bpm"`
	Beats    []float64 `json:"beats"`
	Duration float64   `json:"duration"`
}

// EventType identifies a pipeline event.
type EventType int

const (
	EventStatus EventType = iota
	EventProgress
	EventMetadata
	EventAssetReady
	EventGridReady
	EventPlaybackStarted
	EventPlaybackStopped
	EventError
)

// PipelineEvent is a typed message sent from a pipeline worker to the
// session. Exactly one payload field is set depending on Type.
type PipelineEvent struct {
	Type     EventType
	Status   string
	Percent  int // 0-100, valid for EventProgress
	Metadata *MediaMetadata
	Asset    *AudioAsset
	Grid     *BeatGrid
	Err      error
}

// SessionSnapshot is an atomic copy of the user-visible session state,
// served as-is over the HTTP API.
type SessionSnapshot struct {
	Phase        SessionPhase   `json:"phase"`
	URL          string         `json:"url"`
	Metadata     *MediaMetadata `json:"metadata,omitempty"`
	BPM          float64        `json:"bpm"`
	HalfBPM      float64        `json:"half_bpm"`
	DoubleBPM    float64        `json:"double_bpm"`
	TempoOption  TempoOption    `json:"tempo_option"`
	Duration     float64        `json:"duration"`
	BeatCount    int            `json:"beat_count"`
	VolumeDB     float64        `json:"volume_db"`
	MusicVolume  float64        `json:"music_volume"`
	Status       string         `json:"status"`
	Progress     int            `json:"progress"`
	IsProcessing bool           `json:"is_processing"`
	IsPlaying    bool           `json:"is_playing"`
	IsPaused     bool           `json:"is_paused"`
}
