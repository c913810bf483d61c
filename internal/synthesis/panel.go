// Package synthesis implements the text-to-speech panel: a per-client state
// machine that turns free text plus the selected voice, rate and pitch into
// exactly one active utterance on a tts.Provider.
//
// States move Idle → Preparing → Speaking → Idle. Preparing is a short,
// configurable debounce before the request is dispatched; Speaking begins
// with the first audio chunk. Cancel returns to Idle from either active
// state. Provider failures revert to Idle without a user-visible notice.
//
// Every mutation is serialised behind the panel mutex. Each utterance carries
// a generation number, so audio or completion callbacks from a cancelled
// utterance never touch the current state.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxconv/internal/notice"
	"github.com/MrWong99/voxconv/internal/notify"
	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// State is the lifecycle state of the panel.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateSpeaking  State = "speaking"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultPrepareDelay = 300 * time.Millisecond
	DefaultRate         = 1.0
	DefaultPitch        = 1.0
	DefaultSampleRate   = 24000
)

// ErrClosed is returned by operations on a closed panel.
var ErrClosed = errors.New("synthesis: panel closed")

// Config holds the panel defaults.
type Config struct {
	// PrepareDelay is how long the panel stays in Preparing before the
	// request is sent. Negative disables the delay; zero means the default.
	PrepareDelay time.Duration

	// Rate and Pitch are the initial slider values.
	Rate  float64
	Pitch float64

	// SampleRate is the rate of the 16-bit mono PCM the provider emits.
	SampleRate int

	// ProviderName labels metrics and error reports.
	ProviderName string
}

func (c Config) withDefaults() Config {
	if c.PrepareDelay == 0 {
		c.PrepareDelay = DefaultPrepareDelay
	}
	if c.PrepareDelay < 0 {
		c.PrepareDelay = 0
	}
	if c.Rate == 0 {
		c.Rate = DefaultRate
	}
	if c.Pitch == 0 {
		c.Pitch = DefaultPitch
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ProviderName == "" {
		c.ProviderName = "tts"
	}
	return c
}

// Snapshot is the view model of the panel.
type Snapshot struct {
	Supported  bool           `json:"supported"`
	State      State          `json:"state"`
	Voices     []tts.Voice    `json:"voices"`
	VoiceID    string         `json:"voice_id"`
	Rate       float64        `json:"rate"`
	Pitch      float64        `json:"pitch"`
	SampleRate int            `json:"sample_rate"`
	Notice     *notice.Notice `json:"notice,omitempty"`
}

// EventKind discriminates Event.
type EventKind string

const (
	// EventSnapshot carries the full view model after any change.
	EventSnapshot EventKind = "snapshot"
	// EventAudio carries one PCM chunk of the active utterance.
	EventAudio EventKind = "audio"
)

// Event is published to panel subscribers.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Audio    []byte
}

// Option configures a Panel.
type Option func(*Panel)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Panel) {
		p.metrics = m
	}
}

// Panel is the synthesis state machine of one client view. It is safe for
// concurrent use.
type Panel struct {
	provider tts.Provider
	catalog  *Catalog
	cfg      Config
	metrics  *observe.Metrics

	// emitMu orders published events with the state changes that produced
	// them. It is always taken before mu.
	emitMu sync.Mutex

	mu        sync.Mutex
	state     State
	voiceID   string
	rate      float64
	pitch     float64
	gen       uint64
	cancel    context.CancelFunc
	startedAt time.Time
	closed    bool

	unsubCatalog func()
	events       notify.Hub[Event]
}

// NewPanel returns an idle panel. A nil provider yields an unsupported panel
// whose controls all return notice.ErrCapabilityUnavailable.
func NewPanel(provider tts.Provider, catalog *Catalog, cfg Config, opts ...Option) *Panel {
	cfg = cfg.withDefaults()
	p := &Panel{
		provider: provider,
		catalog:  catalog,
		cfg:      cfg,
		state:    StateIdle,
		rate:     cfg.Rate,
		pitch:    cfg.Pitch,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.supported() {
		if v, ok := catalog.Default(); ok {
			p.voiceID = v.ID
		}
		p.unsubCatalog = catalog.Subscribe(p.onVoicesChanged)
	}
	return p
}

func (p *Panel) supported() bool { return p.provider != nil && p.catalog != nil }

// Subscribe registers fn for panel events. Events are delivered in order on
// the goroutine that produced them; fn must not call back into the panel.
func (p *Panel) Subscribe(fn func(Event)) (unsubscribe func()) {
	return p.events.Subscribe(fn)
}

// Snapshot returns the current view model.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Panel) snapshotLocked() Snapshot {
	s := Snapshot{
		Supported:  p.supported(),
		State:      p.state,
		VoiceID:    p.voiceID,
		Rate:       p.rate,
		Pitch:      p.pitch,
		SampleRate: p.cfg.SampleRate,
	}
	if !s.Supported {
		n := notice.New(notice.KindCapabilityUnavailable, notice.MsgSynthesisMissing)
		s.Notice = &n
		return s
	}
	s.Voices = p.catalog.Voices()
	return s
}

// checkLocked returns the error every control reports for an unusable panel.
// Callers hold p.mu.
func (p *Panel) checkLocked() error {
	if p.closed {
		return ErrClosed
	}
	if !p.supported() {
		return notice.ErrCapabilityUnavailable
	}
	return nil
}

// mutate runs fn under both locks and, unless it fails, publishes the
// resulting snapshot.
func (p *Panel) mutate(fn func() error) error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	err := fn()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
	return err
}

// SelectVoice selects the voice with id. An id that is not in the catalog
// is rejected with notice.ErrUnknownVoice and the selection falls back to
// the first catalog voice.
func (p *Panel) SelectVoice(id string) error {
	return p.mutate(func() error {
		if _, ok := p.catalog.Lookup(id); ok {
			p.voiceID = id
			return nil
		}
		p.voiceID = ""
		if v, ok := p.catalog.Default(); ok {
			p.voiceID = v.ID
		}
		return fmt.Errorf("synthesis: voice %q: %w", id, notice.ErrUnknownVoice)
	})
}

// SetRate sets the speaking rate used by the next utterance. Values outside
// [tts.MinRate, tts.MaxRate] are rejected and the previous rate is kept.
func (p *Panel) SetRate(r float64) error {
	if err := tts.CheckRate(r); err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	return p.mutate(func() error {
		p.rate = r
		return nil
	})
}

// SetPitch sets the pitch used by the next utterance. Values outside
// [tts.MinPitch, tts.MaxPitch] are rejected and the previous pitch is kept.
func (p *Panel) SetPitch(v float64) error {
	if err := tts.CheckPitch(v); err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	return p.mutate(func() error {
		p.pitch = v
		return nil
	})
}

// Speak starts one utterance of text with the current settings. Blank text
// is rejected with notice.ErrEmptyInput and no request is issued. While an
// utterance is active Speak returns notice.ErrBusy. Before the catalog holds
// any voice Speak returns notice.ErrUnknownVoice.
func (p *Panel) Speak(text string) error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if strings.TrimSpace(text) == "" {
		p.mu.Unlock()
		return notice.ErrEmptyInput
	}
	if p.state != StateIdle {
		p.mu.Unlock()
		return notice.ErrBusy
	}
	if _, ok := p.catalog.Lookup(p.voiceID); !ok {
		// The catalog changed under us or has not loaded yet.
		v, ok := p.catalog.Default()
		if !ok {
			p.voiceID = ""
			p.mu.Unlock()
			return fmt.Errorf("synthesis: no voice available yet: %w", notice.ErrUnknownVoice)
		}
		p.voiceID = v.ID
	}

	u := tts.Utterance{Text: text, VoiceID: p.voiceID, Rate: p.rate, Pitch: p.pitch}
	ctx, cancel := context.WithCancel(context.Background())
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.state = StatePreparing
	p.startedAt = time.Now()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
	go p.run(ctx, gen, u)
	return nil
}

// Cancel stops the active utterance immediately and returns to Idle. It is a
// no-op when the panel is idle.
func (p *Panel) Cancel() error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.state == StateIdle {
		p.mu.Unlock()
		return nil
	}
	elapsed := p.endLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.metrics.RecordUtterance(context.Background(), "cancelled", elapsed.Seconds())
	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
	return nil
}

// endLocked cancels the active utterance, invalidates its generation and
// returns to Idle.
func (p *Panel) endLocked() time.Duration {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	p.state = StateIdle
	return time.Since(p.startedAt)
}

// Close cancels any active utterance and detaches all subscribers.
func (p *Panel) Close() error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.state != StateIdle {
		p.endLocked()
	}
	p.closed = true
	unsub := p.unsubCatalog
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	p.events.Clear()
	return nil
}

// run drives one utterance through Preparing and Speaking.
func (p *Panel) run(ctx context.Context, gen uint64, u tts.Utterance) {
	if d := p.cfg.PrepareDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ctx, span := observe.StartSpan(ctx, "synthesis.utterance", trace.WithAttributes(
		observe.Attr("provider", p.cfg.ProviderName),
		observe.Attr("voice", u.VoiceID),
	))
	var spanErr error
	defer func() {
		if spanErr == nil {
			spanErr = ctx.Err()
		}
		observe.EndSpan(span, spanErr)
	}()

	dispatched := time.Now()
	audioCh, err := p.provider.Synthesize(ctx, u)
	if err != nil {
		spanErr = err
		if ctx.Err() == nil {
			p.fail(ctx, gen, err)
		}
		return
	}
	p.metrics.RecordProviderRequest(ctx, p.cfg.ProviderName, "tts", "ok")

	first := true
	for chunk := range audioCh {
		if first {
			first = false
			p.metrics.TTSTimeToFirstAudio.Record(ctx, time.Since(dispatched).Seconds())
			if !p.transition(gen, StatePreparing, StateSpeaking) {
				go audio.Drain(audioCh)
				return
			}
		}
		if !p.emitAudio(gen, chunk) {
			// Superseded; let the provider finish flushing.
			go audio.Drain(audioCh)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	p.finish(gen, "completed")
}

// transition moves from one state to another if gen is still current.
func (p *Panel) transition(gen uint64, from, to State) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.closed {
		p.mu.Unlock()
		return false
	}
	if p.state == from {
		p.state = to
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
	return true
}

func (p *Panel) emitAudio(gen uint64, chunk []byte) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	current := p.gen == gen && !p.closed
	p.mu.Unlock()
	if !current {
		return false
	}
	p.events.Publish(Event{Kind: EventAudio, Audio: chunk})
	return true
}

// finish returns to Idle after the utterance of gen ended on its own.
func (p *Panel) finish(gen uint64, status string) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.closed {
		p.mu.Unlock()
		return
	}
	elapsed := p.endLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.metrics.RecordUtterance(context.Background(), status, elapsed.Seconds())
	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
}

func (p *Panel) fail(ctx context.Context, gen uint64, err error) {
	slog.Warn("synthesis: utterance failed", "provider", p.cfg.ProviderName, "err", err)
	p.metrics.RecordProviderRequest(ctx, p.cfg.ProviderName, "tts", "error")
	p.metrics.RecordProviderError(ctx, p.cfg.ProviderName, "tts")
	observe.CaptureError(ctx, "synthesis", err)
	p.finish(gen, "failed")
}

// onVoicesChanged keeps the selection valid and pushes the new list.
func (p *Panel) onVoicesChanged(voices []tts.Voice) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	known := false
	for _, v := range voices {
		if v.ID == p.voiceID {
			known = true
			break
		}
	}
	if !known {
		p.voiceID = ""
		if len(voices) > 0 {
			p.voiceID = voices[0].ID
		}
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
}
