package playback

import (
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"

	"github.com/carvidal/metrodl/internal/analysis"
	"github.com/carvidal/metrodl/internal/click"
	"github.com/carvidal/metrodl/internal/logger"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

// Engine plays audio through the local output device. Two paths exist:
// PlayFile for pre-rendered preview mixes, and PlayLive which plays the
// untouched source and fires the metronome click in real time against
// scheduled beat deadlines.
type Engine struct {
	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	playing  bool
	level    float64 // music volume, 0-1
	stop     chan struct{}

	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration
}

// NewEngine creates a playback engine.
func NewEngine() *Engine {
	return &Engine{level: 0.5}
}

// IsPlaying reports whether playback is active. A paused stream still
// counts as playing.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Pause suspends playback in place without releasing the stream. The
// live click scheduler holds with it. No-op when nothing is playing.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil || e.paused {
		return
	}
	e.paused = true
	e.pausedAt = time.Now()
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
}

// Resume continues playback paused by Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil || !e.paused {
		return
	}
	e.pausedTotal += time.Since(e.pausedAt)
	e.paused = false
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
}

// SetMusicVolume sets the music loudness on a 0-1 scale, 0.5 being
// unity gain. Applies to the current stream and to later ones.
func (e *Engine) SetMusicVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.level = level
	if e.volume == nil {
		return
	}
	speaker.Lock()
	e.volume.Volume = level*2 - 1
	e.volume.Silent = level == 0
	speaker.Unlock()
}

// PlayFile plays an audio file (typically a rendered preview scratch
// file) to completion or until Stop. done is called exactly once when
// playback finishes or is stopped.
func (e *Engine) PlayFile(path string, done func()) error {
	streamer, format, err := analysis.OpenStream(path)
	if err != nil {
		return &mderrors.PlaybackError{Op: "open", Err: err}
	}

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		streamer.Close()
		return &mderrors.PlaybackError{Op: "speaker_init", Err: err}
	}

	e.mu.Lock()
	e.stopLocked()
	e.streamer = streamer
	e.ctrl = &beep.Ctrl{Streamer: streamer}
	e.volume = &effects.Volume{
		Streamer: e.ctrl,
		Base:     2,
		Volume:   e.level*2 - 1,
		Silent:   e.level == 0,
	}
	e.playing = true
	e.stop = make(chan struct{})
	vol := e.volume
	e.mu.Unlock()

	var once sync.Once
	finish := func() {
		e.mu.Lock()
		e.playing = false
		e.mu.Unlock()
		once.Do(done)
	}

	speaker.Play(beep.Seq(vol, beep.Callback(finish)))
	return nil
}

// PlayLive plays the full source audio and stamps clicks live: for a
// start instant t0 it fires the click at each absolute deadline
// t0 + beats[i], comparing against the clock on every beat so scheduling
// drift never accumulates. The stop flag is observed at each beat
// boundary; latency of up to one beat interval on stop is accepted.
func (e *Engine) PlayLive(path string, beats []float64, volumeDB float64, done func()) error {
	streamer, format, err := analysis.OpenStream(path)
	if err != nil {
		return &mderrors.PlaybackError{Op: "open", Err: err}
	}

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		streamer.Close()
		return &mderrors.PlaybackError{Op: "speaker_init", Err: err}
	}

	e.mu.Lock()
	e.stopLocked()
	e.streamer = streamer
	e.ctrl = &beep.Ctrl{Streamer: streamer}
	e.volume = &effects.Volume{
		Streamer: e.ctrl,
		Base:     2,
		Volume:   e.level*2 - 1,
		Silent:   e.level == 0,
	}
	e.playing = true
	e.stop = make(chan struct{})
	stop := e.stop
	vol := e.volume
	e.mu.Unlock()

	tone := click.Synthesize(volumeDB, int(format.SampleRate))

	var once sync.Once
	finish := func() {
		e.mu.Lock()
		e.playing = false
		e.mu.Unlock()
		once.Do(done)
	}

	speaker.Play(beep.Seq(vol, beep.Callback(finish)))

	go func() {
		start := time.Now()
		for _, deadline := range Deadlines(start, beats) {
			for {
				select {
				case <-stop:
					return
				default:
				}

				e.mu.Lock()
				paused := e.paused
				offset := e.pausedTotal
				e.mu.Unlock()

				if paused {
					select {
					case <-stop:
						return
					case <-time.After(50 * time.Millisecond):
					}
					continue
				}

				// Paused time stretches the whole schedule.
				wait := time.Until(deadline.Add(offset))
				if wait <= 0 {
					break
				}
				select {
				case <-stop:
					return
				case <-time.After(wait):
				}
			}
			speaker.Play(&toneStreamer{tone: tone})
		}
	}()

	return nil
}

// Stop halts playback. Safe to call when nothing is playing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.stop != nil {
		select {
		case <-e.stop:
		default:
			close(e.stop)
		}
	}
	if e.streamer != nil {
		speaker.Clear()
		if err := e.streamer.Close(); err != nil {
			logger.Warn("close streamer", logger.ErrorField(err))
		}
		e.streamer = nil
	}
	e.ctrl = nil
	e.volume = nil
	e.playing = false
	e.paused = false
	e.pausedTotal = 0
}

// Deadlines converts relative beat timestamps to absolute instants from
// a fixed start time.
func Deadlines(start time.Time, beats []float64) []time.Time {
	out := make([]time.Time, len(beats))
	for i, b := range beats {
		out[i] = start.Add(time.Duration(b * float64(time.Second)))
	}
	return out
}

// toneStreamer plays the mono click tone once, duplicated to stereo.
type toneStreamer struct {
	tone []float64
	pos  int
}

func (t *toneStreamer) Stream(samples [][2]float64) (int, bool) {
	if t.pos >= len(t.tone) {
		return 0, false
	}
	n := 0
	for i := range samples {
		if t.pos >= len(t.tone) {
			break
		}
		samples[i][0] = t.tone[t.pos]
		samples[i][1] = t.tone[t.pos]
		t.pos++
		n++
	}
	return n, true
}

func (t *toneStreamer) Err() error { return nil }
