// Package transcription implements the speech-to-text panel: a per-client
// state machine that owns the microphone while listening, feeds it to an
// stt.Provider session and accumulates the recognised segments into a
// transcript buffer with a live session meter.
//
// States move Idle → Listening → (Paused ⇄ Listening) → Idle. Start returns
// as soon as the panel is Listening; the microphone and the recognition
// session are acquired in the background, because acquiring the microphone
// may wait on the user. Permission denial returns the panel to Idle and
// publishes a notice. Every other failure returns it to Idle silently.
package transcription

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
	"github.com/MrWong99/voxconv/pkg/provider/stt"
)

// State is the lifecycle state of the panel.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StatePaused    State = "paused"
)

const (
	// DefaultFrameInterval is the meter sampling cadence, one animation frame.
	DefaultFrameInterval = 16 * time.Millisecond

	// DefaultDrainTimeout bounds how long a paused or stopped session may
	// keep delivering its last results.
	DefaultDrainTimeout = 5 * time.Second
)

var (
	// ErrClosed is returned by operations on a closed panel.
	ErrClosed = errors.New("transcription: panel closed")

	// ErrShareUnavailable is returned by Share when no share store is
	// configured. Clients fall back to copying the text.
	ErrShareUnavailable = errors.New("transcription: sharing unavailable")
)

// Sharer publishes a transcript and returns a link to it.
type Sharer interface {
	Share(ctx context.Context, name, text string) (url string, err error)
}

// Config holds the panel defaults.
type Config struct {
	// Language is the initial recognition language. It must be one of
	// Languages. Defaults to DefaultLanguage.
	Language string

	// Languages offered to the user. Defaults to DefaultLanguages.
	Languages []Language

	// FrameInterval is the meter sampling cadence.
	FrameInterval time.Duration

	// Analyser configures the amplitude meter.
	Analyser audio.AnalyserConfig

	// ProviderName labels metrics and error reports.
	ProviderName string

	// DrainTimeout bounds the wait for finals flushed by a session that is
	// closing after Pause or Stop.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Languages) == 0 {
		c.Languages = DefaultLanguages()
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	if c.Analyser.Smoothing == 0 {
		c.Analyser.Smoothing = audio.DefaultSmoothing
	}
	if c.ProviderName == "" {
		c.ProviderName = "stt"
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Snapshot is the view model of the panel.
type Snapshot struct {
	Supported bool           `json:"supported"`
	State     State          `json:"state"`
	Language  string         `json:"language"`
	Languages []Language     `json:"languages"`
	Finalized string         `json:"finalized"`
	Interim   string         `json:"interim"`
	Meter     Meter          `json:"meter"`
	Shareable bool           `json:"shareable"`
	Notice    *notice.Notice `json:"notice,omitempty"`
}

// Download is a plain-text export of the transcript.
type Download struct {
	Filename    string
	ContentType string
	Body        []byte
}

// EventKind discriminates Event.
type EventKind string

const (
	// EventSnapshot carries the full view model after any change.
	EventSnapshot EventKind = "snapshot"
	// EventMeter carries a meter sample while listening.
	EventMeter EventKind = "meter"
	// EventNotice carries a one-off user notice.
	EventNotice EventKind = "notice"
)

// Event is published to panel subscribers.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Meter    Meter
	Notice   notice.Notice
}

// Option configures a Panel.
type Option func(*Panel)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Panel) {
		p.metrics = m
	}
}

// WithSharer enables Share.
func WithSharer(s Sharer) Option {
	return func(p *Panel) {
		p.sharer = s
	}
}

// WithClock replaces time.Now for elapsed time and download names.
func WithClock(now func() time.Time) Option {
	return func(p *Panel) {
		p.now = now
	}
}

// Panel is the transcription state machine of one client view. It is safe
// for concurrent use.
type Panel struct {
	provider stt.Provider
	source   audio.Source
	cfg      Config
	metrics  *observe.Metrics
	sharer   Sharer
	now      func() time.Time
	analyser *audio.Analyser

	// emitMu orders published events with the state changes that produced
	// them. It is always taken before mu.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      State
	language   string
	buf        Buffer
	confidence float64
	watch      stopwatch
	level      float64
	waveform   []byte
	gen        uint64
	cancel     context.CancelFunc
	closed     bool

	// flushing holds the generations that were paused or stopped and whose
	// sessions may still deliver finals.
	flushing map[uint64]bool

	// micFree is closed once the latest generation released the microphone.
	micFree <-chan struct{}

	events notify.Hub[Event]
}

// NewPanel returns an idle panel. A nil provider or source yields an
// unsupported panel whose controls all return notice.ErrCapabilityUnavailable.
func NewPanel(provider stt.Provider, source audio.Source, cfg Config, opts ...Option) (*Panel, error) {
	cfg = cfg.withDefaults()
	if _, ok := findLanguage(cfg.Languages, cfg.Language); !ok {
		return nil, fmt.Errorf("transcription: language %q: %w", cfg.Language, notice.ErrUnknownLanguage)
	}
	an, err := audio.NewAnalyser(cfg.Analyser)
	if err != nil {
		return nil, fmt.Errorf("transcription: %w", err)
	}
	p := &Panel{
		provider: provider,
		source:   source,
		cfg:      cfg,
		now:      time.Now,
		analyser: an,
		state:    StateIdle,
		language: cfg.Language,
		waveform: make([]byte, WaveformBars),
		flushing: make(map[uint64]bool),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

func (p *Panel) supported() bool { return p.provider != nil && p.source != nil }

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
		Supported: p.supported(),
		State:     p.state,
		Language:  p.language,
		Languages: append([]Language(nil), p.cfg.Languages...),
		Finalized: p.buf.Finalized(),
		Interim:   p.buf.Interim(),
		Meter:     p.meterLocked(),
		Shareable: p.sharer != nil,
	}
	if !s.Supported {
		n := notice.New(notice.KindCapabilityUnavailable, notice.MsgRecognitionMissing)
		s.Notice = &n
	}
	return s
}

func (p *Panel) meterLocked() Meter {
	text := p.buf.Finalized()
	elapsed := p.watch.elapsed(p.now())
	return Meter{
		Words:          WordCount(text),
		Characters:     CharCount(text),
		ElapsedSeconds: int(elapsed / time.Second),
		Elapsed:        FormatElapsed(elapsed),
		Level:          p.level,
		Waveform:       append([]byte(nil), p.waveform...),
		Confidence:     p.confidence,
	}
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
	if err := fn(); err != nil {
		p.mu.Unlock()
		return err
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
	return nil
}

// ── Session lifecycle ──────────────────────────────────────────────────────

// Start begins a new listening session. Elapsed time restarts from zero;
// the finalized text is kept. Start while Paused behaves like Resume and
// Start while Listening is a no-op.
func (p *Panel) Start() error {
	return p.mutate(func() error {
		switch p.state {
		case StateListening:
		case StatePaused:
			p.beginLocked()
		default:
			p.watch.reset()
			p.beginLocked()
		}
		return nil
	})
}

// Resume opens a new recognition session after Pause. It is a no-op unless
// the panel is Paused.
func (p *Panel) Resume() error {
	return p.mutate(func() error {
		if p.state == StatePaused {
			p.beginLocked()
		}
		return nil
	})
}

// Pause halts capture and recognition but keeps the transcript and the
// elapsed time. It is a no-op unless the panel is Listening.
func (p *Panel) Pause() error {
	return p.mutate(func() error {
		if p.state == StateListening {
			p.endLocked(StatePaused)
		}
		return nil
	})
}

// Stop halts capture and recognition and returns to Idle.
func (p *Panel) Stop() error {
	return p.mutate(func() error {
		if p.state != StateIdle {
			p.endLocked(StateIdle)
		}
		return nil
	})
}

// beginLocked moves to Listening and starts a session goroutine for a new
// generation. The goroutine opens the microphone only after the previous
// generation released it.
func (p *Panel) beginLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.gen++
	p.cancel = cancel
	p.state = StateListening
	p.watch.start(p.now())

	released := make(chan struct{})
	prev := p.micFree
	p.micFree = released
	go p.listen(ctx, p.gen, p.language, prev, released)
}

// endLocked tears down the current session, if any, and moves to next.
// The session goroutine releases the microphone once it observes the
// cancellation, then drains the session's last finals.
func (p *Panel) endLocked(next State) {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.flushing[p.gen] = true
	}
	p.gen++
	p.state = next
	p.buf.ClearInterim()
	p.watch.stop(p.now())
	p.level = 0
	clear(p.waveform)
}

// ── Transcript controls ────────────────────────────────────────────────────

// Clear empties the transcript, the confidence and the elapsed time. A
// running session keeps listening.
func (p *Panel) Clear() error {
	return p.mutate(func() error {
		p.buf.Reset()
		clear(p.flushing)
		p.confidence = 0
		p.watch.reset()
		if p.state == StateListening {
			p.watch.start(p.now())
		}
		return nil
	})
}

// SetLanguage selects the recognition language for the next Start or
// Resume. Codes that are not offered are rejected with
// notice.ErrUnknownLanguage.
func (p *Panel) SetLanguage(code string) error {
	return p.mutate(func() error {
		if _, ok := findLanguage(p.cfg.Languages, code); !ok {
			return fmt.Errorf("transcription: language %q: %w", code, notice.ErrUnknownLanguage)
		}
		p.language = code
		return nil
	})
}

// Format rewrites the finalized text with collapsed whitespace and one
// paragraph per sentence.
func (p *Panel) Format() error {
	return p.mutate(func() error {
		p.buf.Replace(FormatText(p.buf.Finalized()))
		return nil
	})
}

// Stats summarises the finalized text.
func (p *Panel) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ComputeStats(p.buf.Finalized())
}

// Download exports the finalized text as a dated plain-text file. An empty
// transcript is rejected with notice.ErrEmptyInput.
func (p *Panel) Download() (Download, error) {
	p.mu.Lock()
	text := p.buf.Finalized()
	now := p.now()
	p.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return Download{}, notice.ErrEmptyInput
	}
	return Download{
		Filename:    downloadName(now),
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(text),
	}, nil
}

func downloadName(t time.Time) string {
	return "transcript-" + t.Format("2006-01-02") + ".txt"
}

// Share uploads the finalized text through the configured Sharer and
// returns its link.
func (p *Panel) Share(ctx context.Context) (string, error) {
	if p.sharer == nil {
		return "", ErrShareUnavailable
	}
	d, err := p.Download()
	if err != nil {
		return "", err
	}
	url, err := p.sharer.Share(ctx, d.Filename, string(d.Body))
	if err != nil {
		p.metrics.RecordShare(ctx, "error")
		observe.CaptureError(ctx, "transcription", err)
		return "", fmt.Errorf("transcription: share: %w", err)
	}
	p.metrics.RecordShare(ctx, "ok")
	return url, nil
}

// Close stops any session and detaches all subscribers.
func (p *Panel) Close() error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.state != StateIdle {
		p.endLocked(StateIdle)
	}
	clear(p.flushing)
	p.closed = true
	p.mu.Unlock()

	p.events.Clear()
	return nil
}

// ── Session goroutine ──────────────────────────────────────────────────────

// listen owns the microphone stream and the recognition session of one
// generation until ctx is cancelled or the session ends. It closes released
// once the microphone is free for the next generation.
func (p *Panel) listen(ctx context.Context, gen uint64, language string, prev <-chan struct{}, released chan<- struct{}) {
	release := sync.OnceFunc(func() { close(released) })
	defer release()

	ctx, span := observe.StartSpan(ctx, "transcription.session", trace.WithAttributes(
		observe.Attr("provider", p.cfg.ProviderName),
		observe.Attr("language", language),
	))
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			spanErr = ctx.Err()
			return
		}
	}

	stream, err := p.source.Open(ctx)
	if err != nil {
		spanErr = err
		p.abort(ctx, gen, err)
		return
	}
	closeStream := sync.OnceFunc(func() {
		_ = stream.Close()
		release()
	})
	defer closeStream()

	f := stream.Format()
	sess, err := p.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate:      f.SampleRate,
		Channels:        f.Channels,
		Language:        language,
		Continuous:      true,
		InterimResults:  true,
		MaxAlternatives: 1,
	})
	if err != nil {
		spanErr = err
		p.abort(ctx, gen, err)
		return
	}
	closeSess := sync.OnceValue(sess.Close)
	defer func() {
		closeStream()
		_ = closeSess()
	}()
	p.metrics.RecordProviderRequest(ctx, p.cfg.ProviderName, "stt", "ok")

	p.metrics.ActiveRecognitions.Add(ctx, 1)
	started := time.Now()
	defer func() {
		p.metrics.ActiveRecognitions.Add(context.Background(), -1)
		p.metrics.RecognitionDuration.Record(context.Background(), time.Since(started).Seconds())
	}()

	p.analyser.Reset()
	bins := make([]byte, p.analyser.FrequencyBinCount())
	ticker := time.NewTicker(p.cfg.FrameInterval)
	defer ticker.Stop()

	frames := stream.Frames()
	partials, finals := sess.Partials(), sess.Finals()
	for {
		select {
		case <-ctx.Done():
			// The microphone goes first; a batch backend may take a while
			// to transcribe what it still buffers.
			closeStream()
			p.drain(gen, finals, closeSess)
			return
		case fr, ok := <-frames:
			if !ok {
				slog.Info("transcription: microphone released by client")
				p.end(gen, nil)
				return
			}
			p.analyser.Write(fr)
			if err := sess.SendAudio(fr.Data); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
				spanErr = err
				p.end(gen, err)
				return
			}
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			p.onPartial(gen, tr)
		case tr, ok := <-finals:
			if !ok {
				spanErr = sess.Err()
				p.end(gen, spanErr)
				return
			}
			p.onFinal(gen, tr)
		case <-ticker.C:
			bins = p.analyser.ByteFrequencyData(bins)
			p.sample(gen, audio.Level(bins), audio.Waveform(bins, WaveformBars))
		}
	}
}

// drain closes the session of a paused or stopped generation and appends
// the finals it delivers while closing, for at most cfg.DrainTimeout.
func (p *Panel) drain(gen uint64, finals <-chan stt.Transcript, closeSess func() error) {
	defer p.doneFlushing(gen)

	closed := make(chan struct{})
	go func() {
		_ = closeSess()
		close(closed)
	}()
	timeout := time.NewTimer(p.cfg.DrainTimeout)
	defer timeout.Stop()

	for {
		select {
		case tr, ok := <-finals:
			if !ok {
				return
			}
			p.onLateFinal(gen, tr)
		case <-closed:
			for {
				select {
				case tr, ok := <-finals:
					if !ok {
						return
					}
					p.onLateFinal(gen, tr)
				default:
					return
				}
			}
		case <-timeout.C:
			slog.Debug("transcription: gave up waiting for closing session", "provider", p.cfg.ProviderName)
			return
		}
	}
}

func (p *Panel) doneFlushing(gen uint64) {
	p.mu.Lock()
	delete(p.flushing, gen)
	p.mu.Unlock()
}

// onLateFinal appends a final of a paused or stopped generation unless the
// transcript was cleared since.
func (p *Panel) onLateFinal(gen uint64, tr stt.Transcript) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.closed || !p.flushing[gen] {
		p.mu.Unlock()
		return
	}
	p.buf.AppendFinal(tr.Text)
	if tr.Confidence > 0 {
		p.confidence = tr.Confidence
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
	p.metrics.RecordSegment(context.Background(), true)
}

// abort handles a failure to acquire the microphone or the session.
func (p *Panel) abort(ctx context.Context, gen uint64, err error) {
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, audio.ErrPermissionDenied) {
		slog.Info("transcription: microphone permission denied")
		p.finish(gen, notice.New(notice.KindPermissionDenied, notice.MsgPermissionDenied))
		return
	}
	p.end(gen, err)
}

// end returns to Idle after the session of gen stopped on its own. A nil
// err is a normal end of stream.
func (p *Panel) end(gen uint64, err error) {
	if err != nil {
		slog.Warn("transcription: recognition ended with error", "provider", p.cfg.ProviderName, "err", err)
		p.metrics.RecordProviderError(context.Background(), p.cfg.ProviderName, "stt")
		observe.CaptureError(context.Background(), "transcription", err)
	}
	p.finish(gen, notice.Notice{})
}

// finish moves to Idle if gen is still current and publishes n if set.
func (p *Panel) finish(gen uint64, n notice.Notice) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.closed {
		p.mu.Unlock()
		return
	}
	p.endLocked(StateIdle)
	delete(p.flushing, gen)
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
	if n.Kind != "" {
		p.events.Publish(Event{Kind: EventNotice, Notice: n})
	}
}

func (p *Panel) onPartial(gen uint64, tr stt.Transcript) {
	p.update(gen, func() {
		p.buf.SetInterim(tr.Text)
	})
	p.metrics.RecordSegment(context.Background(), false)
}

func (p *Panel) onFinal(gen uint64, tr stt.Transcript) {
	p.update(gen, func() {
		p.buf.AppendFinal(tr.Text)
		if tr.Confidence > 0 {
			p.confidence = tr.Confidence
		}
	})
	p.metrics.RecordSegment(context.Background(), true)
}

// update applies fn and publishes a snapshot if gen is current and the
// panel is still listening.
func (p *Panel) update(gen uint64, fn func()) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.closed || p.state != StateListening {
		p.mu.Unlock()
		return
	}
	fn()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventSnapshot, Snapshot: snap})
}

// sample stores one meter reading and publishes the meter.
func (p *Panel) sample(gen uint64, level float64, waveform []byte) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.closed || p.state != StateListening {
		p.mu.Unlock()
		return
	}
	p.level = level
	copy(p.waveform, waveform)
	m := p.meterLocked()
	p.mu.Unlock()

	p.events.Publish(Event{Kind: EventMeter, Meter: m})
}
