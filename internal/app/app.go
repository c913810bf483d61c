// Package app wires all voxconv subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and refreshes the voice catalog until the
// context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSharer,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxconv/internal/config"
	"github.com/MrWong99/voxconv/internal/health"
	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/internal/share"
	"github.com/MrWong99/voxconv/internal/shell"
	"github.com/MrWong99/voxconv/internal/synthesis"
	"github.com/MrWong99/voxconv/internal/transcription"
	"github.com/MrWong99/voxconv/internal/web"
	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ transcription.Sharer = (*share.Store)(nil)

// serverShutdownTimeout bounds the graceful HTTP drain when Run's context ends.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured and the matching panel reports its capability
// as unavailable. Populated by main.go via the config registry.
type Providers struct {
	TTS tts.Provider
	STT stt.Provider

	// TTSName and STTName label metrics and error reports.
	TTSName string
	STTName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	sharer   transcription.Sharer
	catalog  *synthesis.Catalog
	views    *shell.Manager
	health   *health.Handler
	server   *web.Server
	httpSrv  *http.Server
	logLevel *slog.LevelVar

	// mu guards cfg once Run has started.
	mu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSharer injects a transcript sharer instead of connecting to the object
// store named in the config.
func WithSharer(s transcription.Sharer) Option {
	return func(a *App) { a.sharer = s }
}

// WithMetrics injects the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level variable behind the process logger so
// that config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). providers may be
// nil, in which case both panels report their capability as unavailable.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Share store ───────────────────────────────────────────────────
	if err := a.initShare(ctx); err != nil {
		return nil, fmt.Errorf("app: init share: %w", err)
	}

	// ── 2. Voice catalog ─────────────────────────────────────────────────
	if providers.TTS != nil {
		a.catalog = synthesis.NewCatalog(providers.TTS,
			synthesis.WithRefreshInterval(cfg.Synthesis.VoiceRefresh))
	}

	// ── 3. Views ─────────────────────────────────────────────────────────
	a.views = shell.NewManager(shell.Deps{
		TTS:     providers.TTS,
		Catalog: a.catalog,
		STT:     providers.STT,
		Sharer:  a.sharer,
		Metrics: a.metrics,
	}, Defaults(cfg, providers))
	a.closers = append(a.closers, a.views.Close)

	// ── 4. Health ────────────────────────────────────────────────────────
	var checkers []health.Checker
	if a.catalog != nil {
		checkers = append(checkers, health.Flag("voices", "voice catalog not loaded", a.catalog.Loaded))
	}
	a.health = health.New(checkers...)

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.server = web.NewServer(a.views, a.catalog, a.health, a.metrics, WebConfig(cfg.Server))
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initShare connects to the object store unless a sharer was injected or
// sharing is not configured.
func (a *App) initShare(ctx context.Context) error {
	if a.sharer != nil {
		return nil
	}
	sc := a.cfg.Share
	if sc.Endpoint == "" {
		slog.Info("transcript sharing disabled (share.endpoint not set)")
		return nil
	}
	store, err := share.New(ctx, share.Config{
		Endpoint:  sc.Endpoint,
		AccessKey: sc.AccessKey,
		SecretKey: sc.SecretKey,
		Bucket:    sc.Bucket,
		Region:    sc.Region,
		Secure:    sc.Secure,
		Prefix:    sc.Prefix,
		LinkTTL:   sc.LinkTTL,
		PublicURL: sc.PublicURL,
	})
	if err != nil {
		return err
	}
	a.sharer = store
	slog.Info("transcript sharing enabled", "endpoint", sc.Endpoint, "bucket", sc.Bucket)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the REST and WebSocket API.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Views returns the view manager.
func (a *App) Views() *shell.Manager { return a.views }

// Catalog returns the voice catalog, or nil when no TTS provider is configured.
func (a *App) Catalog() *synthesis.Catalog { return a.catalog }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and keeps the voice catalog
// fresh. It blocks until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.httpSrv.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	if a.catalog != nil {
		eg.Go(func() error { return a.catalog.Run(egCtx) })
	}

	eg.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", ln.Addr().String())
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", ln.Addr().String())
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return nil
	})

	return eg.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of cfg: the log level and the
// panel defaults used by panels mounted from now on. Changes that need a
// restart are logged and reported in the returned diff.
func (a *App) ApplyConfig(cfg *config.Config) config.ConfigDiff {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, cfg)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SynthesisChanged || d.TranscriptionChanged {
		a.views.SetDefaults(Defaults(cfg, a.providers))
		slog.Info("panel defaults updated",
			"synthesis", d.SynthesisChanged,
			"transcription", d.TranscriptionChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	a.cfg = cfg
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting connections first.
		if err := a.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Defaults converts the panel sections of cfg into [shell.Defaults].
func Defaults(cfg *config.Config, p *Providers) shell.Defaults {
	var langs []transcription.Language
	for _, l := range cfg.Transcription.Languages {
		langs = append(langs, transcription.Language{Code: l.Code, Name: l.Name})
	}
	return shell.Defaults{
		Synthesis: synthesis.Config{
			PrepareDelay: cfg.Synthesis.PrepareDelay,
			Rate:         cfg.Synthesis.Rate,
			Pitch:        cfg.Synthesis.Pitch,
			SampleRate:   cfg.Synthesis.SampleRate,
			ProviderName: p.TTSName,
		},
		Transcription: transcription.Config{
			Language:      cfg.Transcription.Language,
			Languages:     langs,
			FrameInterval: cfg.Transcription.MeterInterval,
			Analyser: audio.AnalyserConfig{
				FFTSize:   cfg.Transcription.FFTSize,
				Smoothing: cfg.Transcription.Smoothing,
			},
			ProviderName: p.STTName,
		},
	}
}

// WebConfig converts the server section of cfg into [web.Config].
func WebConfig(sc config.ServerConfig) web.Config {
	return web.Config{
		AllowedOrigins: sc.AllowedOrigins,
		OriginPatterns: sc.WebSocketOrigins,
		RateLimit:      sc.RateLimit,
		RateWindow:     sc.RateWindow,
		SendBuffer:     sc.SendBuffer,
	}
}

// SlogLevel maps a config log level onto [slog.Level]. Unknown values map
// to Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
