package observe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// flushTimeout bounds how long shutdown waits for queued Sentry events.
const flushTimeout = 2 * time.Second

// SentryConfig configures error monitoring. An empty DSN disables it.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	// TracesSampleRate is the fraction of transactions sent to Sentry.
	TracesSampleRate float64
}

// InitSentry initialises the global Sentry client. It returns a flush
// function for shutdown. With an empty DSN nothing is initialised and the
// flush function is a no-op; CaptureError then does nothing.
func InitSentry(cfg SentryConfig) (flush func(), err error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
	}); err != nil {
		return nil, fmt.Errorf("observe: init sentry: %w", err)
	}
	return func() { sentry.Flush(flushTimeout) }, nil
}

// CaptureError reports err to Sentry tagged with the component that hit it
// and the current trace ID. Cancellations are not reported. It is safe to
// call when Sentry is disabled.
func CaptureError(ctx context.Context, component string, err error) {
	if err == nil || isCancellation(err) {
		return
	}
	hub := sentry.CurrentHub()
	if hub.Client() == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		if cid := CorrelationID(ctx); cid != "" {
			scope.SetTag("trace_id", cid)
		}
		hub.CaptureException(err)
	})
}

// Recover returns middleware that reports handler panics to Sentry and
// answers 500 instead of dropping the connection.
func Recover() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(r)
					hub.RecoverWithContext(r.Context(), rec)
					Logger(r.Context()).Error("http handler panic", "panic", rec, "path", r.URL.Path)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
