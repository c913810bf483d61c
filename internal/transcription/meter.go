package transcription

import (
	"fmt"
	"time"
)

// WaveformBars is the number of bars in the meter waveform.
const WaveformBars = 30

// Meter is the derived session display: counts recomputed from the buffer,
// the elapsed listening time and the live amplitude sample.
type Meter struct {
	Words          int     `json:"words"`
	Characters     int     `json:"characters"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Elapsed        string  `json:"elapsed"`
	Level          float64 `json:"level"`
	Waveform       []byte  `json:"waveform"`
	// Confidence of the last final segment that reported one, 0 if unknown.
	Confidence float64 `json:"confidence"`
}

// FormatElapsed renders d as m:ss, truncating to whole seconds.
func FormatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// stopwatch measures listening time with pauses excluded.
type stopwatch struct {
	acc     time.Duration
	running bool
	since   time.Time
}

func (s *stopwatch) start(now time.Time) {
	if !s.running {
		s.running = true
		s.since = now
	}
}

func (s *stopwatch) stop(now time.Time) {
	if s.running {
		s.acc += now.Sub(s.since)
		s.running = false
	}
}

func (s *stopwatch) reset() { *s = stopwatch{} }

func (s *stopwatch) elapsed(now time.Time) time.Duration {
	if s.running {
		return s.acc + now.Sub(s.since)
	}
	return s.acc
}
