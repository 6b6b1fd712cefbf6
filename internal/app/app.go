// Package app wires the koebridge subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds every adapter from the
// config, downgrading unconfigured integrations to no-ops in development,
// Run serves the HTTP surface until the context ends, and Shutdown drains
// live calls and closes adapters in order.
//
// For testing, inject doubles via functional options (WithDialer,
// WithBackend, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/koebridge/koebridge/internal/bridge"
	"github.com/koebridge/koebridge/internal/carrier"
	"github.com/koebridge/koebridge/internal/config"
	"github.com/koebridge/koebridge/internal/health"
	"github.com/koebridge/koebridge/internal/notify"
	"github.com/koebridge/koebridge/internal/observe"
	"github.com/koebridge/koebridge/internal/tools"
	"github.com/koebridge/koebridge/internal/transcript"
	"github.com/koebridge/koebridge/pkg/orderapi"
	"github.com/koebridge/koebridge/pkg/realtime"
)

const (
	// readHeaderTimeout bounds slow-header attacks on the webhook port. No
	// write timeout is set: media streams are long-lived WebSockets.
	readHeaderTimeout = 10 * time.Second

	// serverDrainTimeout bounds the HTTP listener shutdown once Run's
	// context ends. Hijacked media sockets are not covered here; the call
	// registry drains those during Shutdown.
	serverDrainTimeout = 10 * time.Second
)

// tunables are the per-call settings a config reload may change while the
// server runs. Calls in flight keep the values they started with.
type tunables struct {
	voice                 string
	echoCooldown          time.Duration
	greetingStabilization time.Duration
}

// App owns all subsystem lifetimes and serves the telephone bridge.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	met     *observe.Metrics
	version string

	// Adapters — initialised in New, torn down in Shutdown.
	dialer  realtime.Dialer
	backend OrderBackend
	email   tools.EmailSender
	sms     bridge.SMSSender
	sink    transcript.Sink

	registry *bridge.Registry
	limiter  *ipLimiter
	tun      atomic.Pointer[tunables]

	srv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVersion sets the build version reported by /health.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithLogger sets the root logger instead of slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithDialer injects a realtime dialer instead of creating one from config.
func WithDialer(d realtime.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithBackend injects an order backend instead of creating one from config.
func WithBackend(b OrderBackend) Option {
	return func(a *App) { a.backend = b }
}

// WithEmail injects a mail sender instead of creating one from config.
func WithEmail(e tools.EmailSender) Option {
	return func(a *App) { a.email = e }
}

// WithSMS injects an SMS sender instead of creating one from config.
func WithSMS(s bridge.SMSSender) Option {
	return func(a *App) { a.sms = s }
}

// WithTranscripts injects a transcript sink instead of connecting Postgres.
func WithTranscripts(s transcript.Sink) Option {
	return func(a *App) { a.sink = s }
}

// ── New ───────────────────────────────────────────────────────────────────────

// New creates an App by wiring all adapters together. Integrations without
// usable credentials run as no-ops so a development instance starts with an
// empty environment; config validation has already rejected that state for
// production.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	a.met = observe.DefaultMetrics()

	// ── 2. Order backend ─────────────────────────────────────────────────
	a.initBackend()

	// ── 3. LLM dialer ────────────────────────────────────────────────────
	a.initDialer()

	// ── 4. Notification senders ──────────────────────────────────────────
	a.initNotify()

	// ── 5. Transcript sink ───────────────────────────────────────────────
	if err := a.initTranscripts(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcripts: %w", err)
	}

	// ── 6. Call registry ─────────────────────────────────────────────────
	a.registry = bridge.NewRegistry(a.log, a.met)

	// ── 7. Webhook rate limiter ──────────────────────────────────────────
	a.limiter = newIPLimiter(webhookRateLimit())
	a.closers = append(a.closers, func() error {
		a.limiter.stop()
		return nil
	})

	a.ApplyConfig(cfg)
	return a, nil
}

// ── Init helpers ──────────────────────────────────────────────────────────────

// initBackend builds the order API client, or a no-op when credentials are
// absent. The real client is wrapped so every request lands in the metrics.
func (a *App) initBackend() {
	if a.backend != nil {
		return
	}
	if !a.cfg.Backend.Configured() {
		a.log.Warn("order backend not configured, caller identification and order lookups disabled")
		a.backend = noopBackend{}
		return
	}

	opts := []orderapi.Option{orderapi.WithLogger(a.log)}
	if a.cfg.Backend.APIBase != "" {
		opts = append(opts, orderapi.WithBaseURL(a.cfg.Backend.APIBase))
	}
	client := orderapi.New(
		a.cfg.Backend.ClientID,
		a.cfg.Backend.ClientSecret,
		a.cfg.Backend.RefreshToken,
		opts...,
	)
	a.backend = &instrumentedBackend{next: client, met: a.met}
}

// initDialer builds the realtime client. A placeholder API key still gets a
// real client: connecting will fail per call and the carrier side falls back
// cleanly, which beats refusing to serve the webhook at all.
func (a *App) initDialer() {
	if a.dialer != nil {
		return
	}
	if !a.cfg.LLM.Configured() {
		a.log.Warn("llm api key not configured, calls will fail to connect")
	}

	var opts []realtime.Option
	if a.cfg.LLM.Model != "" {
		opts = append(opts, realtime.WithModel(a.cfg.LLM.Model))
	}
	a.dialer = realtime.NewClient(a.cfg.LLM.APIKey, opts...)
}

// initNotify builds the mail and SMS senders, with logging no-ops standing
// in for whatever is not configured.
func (a *App) initNotify() {
	if a.email == nil {
		if a.cfg.Email.Configured() {
			a.email = notify.NewEmailSender(a.cfg.Email, a.log)
		} else {
			a.log.Warn("smtp relay not configured, customer mail disabled")
			a.email = notify.NewNoopEmail(a.log)
		}
	}
	if a.sms == nil {
		if a.cfg.Twilio.Configured() {
			a.sms = notify.NewSMSSender(a.cfg.Twilio, a.log)
		} else {
			a.log.Warn("carrier rest credentials not configured, staff sms alerts disabled")
			a.sms = notify.NewNoopSMS(a.log)
		}
	}
}

// initTranscripts connects the Postgres sink when a database is configured.
func (a *App) initTranscripts(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	if !a.cfg.Transcript.Configured() {
		a.log.Info("transcript persistence disabled")
		a.sink = transcript.NoopSink{}
		return nil
	}

	sink, err := transcript.NewPostgresSink(ctx, a.cfg.Transcript.DatabaseURL)
	if err != nil {
		return err
	}
	a.sink = sink
	a.closers = append(a.closers, func() error {
		sink.Close()
		return nil
	})
	return nil
}

// ── HTTP surface ──────────────────────────────────────────────────────────────

// Routes assembles the full HTTP handler: carrier webhook, media stream,
// health probes and metrics.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.met))

	webhook := carrier.NewWebhook(a.backend, a.cfg.PublicHost, a.log, a.met)
	r.With(rateLimit(a.limiter, a.log)).Method(http.MethodPost, "/incoming-call", webhook)
	r.Get("/media-stream", carrier.Handler(a.log, a.handleCall))

	health.New(a.healthInfo(), a.checkers()...).Register(r)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// healthInfo snapshots the deployment data reported by /health.
func (a *App) healthInfo() health.Info {
	return health.Info{
		Version:     a.version,
		Environment: string(a.cfg.Environment),
		Features: health.Features{
			Backend:     a.cfg.Backend.Configured(),
			Transcripts: a.cfg.Transcript.Configured(),
			Email:       a.cfg.Email.Configured(),
			SMS:         a.cfg.Twilio.Configured() && a.cfg.Twilio.SupportNumber != "",
		},
		ActiveCalls: a.registry.Count,
	}
}

// checkers lists the readiness probes for adapters that hold connections.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if pg, ok := a.sink.(*transcript.PostgresSink); ok {
		cs = append(cs, health.Checker{Name: "transcripts", Check: pg.Ping})
	}
	return cs
}

// handleCall runs one bridged call over an accepted media stream. It blocks
// until the call ends; the carrier handler closes the socket afterwards.
func (a *App) handleCall(ctx context.Context, stream *carrier.Stream, info carrier.StartInfo) {
	t := a.tun.Load()
	m := bridge.NewMediator(bridge.Config{
		Log:                   a.log,
		Metrics:               a.met,
		Dialer:                a.dialer,
		Voice:                 t.voice,
		Orders:                a.backend,
		Email:                 a.email,
		SMS:                   a.sms,
		SupportNumber:         a.cfg.Twilio.SupportNumber,
		Transcripts:           a.sink,
		EchoCooldown:          t.echoCooldown,
		GreetingStabilization: t.greetingStabilization,
	}, stream, info)

	a.registry.Add(info.CallSid, m)
	defer a.registry.Remove(info.CallSid)

	m.Run(ctx)
}

// ApplyConfig adopts the runtime-tunable subset of a reloaded config. Calls
// already in flight keep their settings; new calls pick up the change.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.tun.Store(&tunables{
		voice:                 cfg.LLM.Voice,
		echoCooldown:          cfg.Bridge.EchoCooldown(),
		greetingStabilization: cfg.Bridge.GreetingStabilization(),
	})
}

// ── Run ───────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then shuts the listener down.
// Live calls are not interrupted here; Shutdown drains them.
func (a *App) Run(ctx context.Context) error {
	a.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), serverDrainTimeout)
		defer cancel()
		if err := a.srv.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ── Shutdown ──────────────────────────────────────────────────────────────────

// Shutdown drains live calls, then runs the adapter closers in order. It
// respects the context deadline: if ctx expires, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "active_calls", a.registry.Count())

		// Drain calls before closing the sink so every transcript gets its
		// end-of-call row.
		if err := a.registry.Shutdown(ctx); err != nil {
			a.log.Warn("call drain incomplete", "error", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
