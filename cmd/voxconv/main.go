// Command voxconv is the main entry point for the voice converter server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/voxconv/internal/app"
	"github.com/MrWong99/voxconv/internal/config"
	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/internal/resilience"
	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/stt/batch"
	"github.com/MrWong99/voxconv/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/voxconv/pkg/provider/stt/openai"
	"github.com/MrWong99/voxconv/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
	"github.com/MrWong99/voxconv/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxconv/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/voxconv/pkg/provider/tts/openai"
	"github.com/MrWong99/voxconv/pkg/provider/tts/piper"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	watch := flag.Bool("watch", true, "reload log level and panel defaults when the config file changes")
	flag.Parse()

	// A missing .env file is normal in production.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxconv: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxconv: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxconv: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voxconv starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRate:     cfg.Telemetry.TracesSampleRate,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cfg.Telemetry.SentryDSN != "" {
		flush, err := observe.InitSentry(observe.SentryConfig{
			DSN:              cfg.Telemetry.SentryDSN,
			Environment:      cfg.Telemetry.Environment,
			Release:          "voxconv@" + version,
			TracesSampleRate: cfg.Telemetry.TracesSampleRate,
		})
		if err != nil {
			slog.Error("failed to initialise sentry", "err", err)
			return 1
		}
		defer flush()
		slog.Info("sentry error reporting enabled", "environment", cfg.Telemetry.Environment)
	}

	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Synthesis.SampleRate)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(newCfg *config.Config, _ config.ConfigDiff) {
			application.ApplyConfig(newCfg)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with voxconv. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native", "openai"},
	"tts": {"elevenlabs", "coqui", "openai", "piper"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Every TTS factory resamples to sampleRate (zero keeps each provider's
// native rate) so that fallbacks produce interchangeable audio.
func registerBuiltinProviders(reg *config.Registry, sampleRate int) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithSegmenter(segmenter(entry.Options))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath, whisper.WithNativeSegmenter(segmenter(entry.Options)))
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []sttopenai.Option{sttopenai.WithSegmenter(segmenter(entry.Options))}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, sttopenai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, sttopenai.WithTimeout(d))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if sampleRate > 0 {
			opts = append(opts, elevenlabs.WithSampleRate(sampleRate))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		if sampleRate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(sampleRate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, ttsopenai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ttsopenai.WithTimeout(d))
		}
		if sampleRate > 0 {
			opts = append(opts, ttsopenai.WithOutputSampleRate(sampleRate))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if bin := optString(entry.Options, "binary"); bin != "" {
			opts = append(opts, piper.WithBinary(bin))
		}
		if sampleRate > 0 {
			opts = append(opts, piper.WithOutputSampleRate(sampleRate))
		}
		return piper.New(entry.Model, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg using the registry.
// When fallbacks are configured the primary and its fallbacks are wrapped in
// a circuit-breaking failover group.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, providerErr(reg, "stt", err)
		}
		ps.STT, ps.STTName = p, entry.Name
		slog.Info("provider created", "kind", "stt", "name", entry.Name)

		if len(cfg.Providers.STTFallbacks) > 0 {
			fb := resilience.NewSTTFallback(p, entry.Name, fallbackConfig("stt", metrics))
			for _, e := range cfg.Providers.STTFallbacks {
				alt, err := reg.CreateSTT(e)
				if err != nil {
					return nil, providerErr(reg, "stt", err)
				}
				fb.AddFallback(e.Name, alt)
			}
			ps.STT = fb
			slog.Info("stt failover enabled", "order", fb.Names())
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, providerErr(reg, "tts", err)
		}
		ps.TTS, ps.TTSName = p, entry.Name
		slog.Info("provider created", "kind", "tts", "name", entry.Name)

		if len(cfg.Providers.TTSFallbacks) > 0 {
			fb := resilience.NewTTSFallback(p, entry.Name, fallbackConfig("tts", metrics))
			for _, e := range cfg.Providers.TTSFallbacks {
				alt, err := reg.CreateTTS(e)
				if err != nil {
					return nil, providerErr(reg, "tts", err)
				}
				fb.AddFallback(e.Name, alt)
			}
			ps.TTS = fb
			slog.Info("tts failover enabled", "order", fb.Names())
		}
	}

	return ps, nil
}

// providerErr lists the known backends when a config names one that does
// not exist.
func providerErr(reg *config.Registry, kind string, err error) error {
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return fmt.Errorf("%w (known %s backends: %s)", err, kind, strings.Join(reg.Names(kind), ", "))
	}
	return err
}

// fallbackConfig reports every failed attempt as a provider error metric
// and every opened breaker to Sentry.
func fallbackConfig(kind string, metrics *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				if to == resilience.StateOpen {
					observe.CaptureError(context.Background(), "resilience",
						fmt.Errorf("%s provider %q circuit opened (was %s)", kind, name, from))
				}
			},
		},
		OnError: func(name string, err error) {
			slog.Warn("provider attempt failed", "kind", kind, "name", name, "err", err)
			metrics.RecordProviderError(context.Background(), name, kind)
		},
	}
}

// segmenter builds the utterance segmenter for the batch STT backends from
// the optional rms_threshold, silence_ms and max_buffer_ms options.
func segmenter(opts map[string]any) batch.Segmenter {
	seg := batch.DefaultSegmenter()
	if v := optFloat(opts, "rms_threshold"); v > 0 {
		seg.RMSThreshold = v
	}
	if v := optInt(opts, "silence_ms"); v > 0 {
		seg.SilenceMs = v
	}
	if v := optInt(opts, "max_buffer_ms"); v > 0 {
		seg.MaxBufferMs = v
	}
	return seg
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxconv: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d stt, %d tts", len(cfg.Providers.STTFallbacks), len(cfg.Providers.TTSFallbacks)))
	if cfg.Share.Endpoint != "" {
		fmt.Printf("║  Sharing         : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Sharing         : %-19s ║\n", "(disabled)")
	}
	if n := len(cfg.Transcription.Languages); n > 0 {
		fmt.Printf("║  Languages       : %-19d ║\n", n)
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int and
// everything else as float64; other types yield 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optFloat extracts a numeric option as float64.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// optDuration parses a duration option such as "30s". Invalid values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
