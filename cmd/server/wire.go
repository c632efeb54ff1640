package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatguard/internal/platform/config"
	platformmetrics "chatguard/internal/platform/metrics"
	"chatguard/internal/platform/postgres"
	redisclient "chatguard/internal/platform/redis"
	"chatguard/internal/ratelimit/handler"
	"chatguard/internal/ratelimit/identity"
	gatemetrics "chatguard/internal/ratelimit/metrics"
	"chatguard/internal/ratelimit/middleware"
	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/ports"
	"chatguard/internal/ratelimit/service/admin"
	"chatguard/internal/ratelimit/service/challenge"
	"chatguard/internal/ratelimit/service/costthrottle"
	"chatguard/internal/ratelimit/service/requestlimit"
	"chatguard/internal/ratelimit/settings"
	"chatguard/internal/ratelimit/store/allowlist"
	challengestore "chatguard/internal/ratelimit/store/challenge"
	coststore "chatguard/internal/ratelimit/store/cost"
	settingsstore "chatguard/internal/ratelimit/store/settings"
	"chatguard/internal/ratelimit/store/stats"
	"chatguard/internal/ratelimit/store/window"
	"chatguard/internal/ratelimit/storeguard"
	"chatguard/pkg/platform/audit"
	"chatguard/pkg/platform/audit/publisher"
	auditkafka "chatguard/pkg/platform/audit/store/kafka"
	auditmemory "chatguard/pkg/platform/audit/store/memory"
	auditpostgres "chatguard/pkg/platform/audit/store/postgres"
	"chatguard/pkg/platform/circuit"
	"chatguard/pkg/platform/httputil"
	adminmw "chatguard/pkg/platform/middleware/admin"
	"chatguard/pkg/platform/middleware/request"
	"chatguard/pkg/platform/middleware/requesttime"
)

// auditBuffer bounds audit events queued for the sink.
const auditBuffer = 1024

// app holds the wired process. Close releases everything build opened.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	redis   *redisclient.Client
	db      *sql.DB
	audit   *publisher.Publisher
	closers []func()

	settings *settings.Source
	resolver *identity.Resolver
	gates    *middleware.Middleware
	handler  *handler.Handler
	http     *platformmetrics.Metrics

	// cleanup purges expired allowlist rows; nil for the in-memory allowlist.
	cleanup func(ctx context.Context, interval time.Duration) error
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.http = platformmetrics.New(a.registry)
	m := gatemetrics.New(a.registry)

	var err error
	a.redis, err = redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.redis.Close() })

	a.db, err = postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if a.db != nil {
		a.closers = append(a.closers, func() { _ = a.db.Close() })
	}

	auditStore, err := a.openAuditStore(ctx)
	if err != nil {
		return nil, err
	}
	a.audit = publisher.NewPublisher(auditStore, publisher.WithAsyncBuffer(auditBuffer), publisher.WithLogger(logger))

	allowlistStore, err := a.openAllowlist(ctx)
	if err != nil {
		return nil, err
	}

	static := settings.NewStaticValues(nil)
	if cfg.Guard.SettingsFile != "" {
		static, err = settings.LoadStaticFile(cfg.Guard.SettingsFile, logger)
		if err != nil {
			return nil, err
		}
	}
	a.settings, err = settings.New(settingsstore.NewRedis(a.redis.Client),
		settings.WithStatic(static),
		settings.WithCacheTTL(cfg.Guard.SettingsCacheTTL),
		settings.WithStoreTimeout(cfg.Guard.StoreTimeout),
		settings.WithMetrics(m),
		settings.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	a.resolver, err = identity.NewResolver(cfg.Guard.IdentifierSalt,
		identity.WithTrustedProxies(cfg.Guard.TrustedProxies),
		identity.WithFingerprint(cfg.Guard.FingerprintEnabled),
	)
	if err != nil {
		return nil, err
	}

	guard := func(gate models.Gate) *storeguard.Guard {
		return storeguard.New(gate,
			storeguard.WithBreaker(circuit.New(string(gate),
				circuit.WithFailureThreshold(cfg.Guard.BreakerFailures),
				circuit.WithCooldown(cfg.Guard.BreakerCooldown),
			)),
			storeguard.WithTimeout(cfg.Guard.StoreTimeout),
			storeguard.WithMetrics(m),
			storeguard.WithLogger(logger),
		)
	}

	statsStore := stats.NewRedis(a.redis.Client)
	windows := window.NewRedis(a.redis.Client)

	limiter, err := requestlimit.New(windows, a.settings,
		requestlimit.WithLogger(logger),
		requestlimit.WithAuditPublisher(a.audit),
		requestlimit.WithMetrics(m),
		requestlimit.WithStats(statsStore),
		requestlimit.WithGuard(guard(models.GateRateLimit)),
	)
	if err != nil {
		return nil, err
	}
	challenges, err := challenge.New(challengestore.NewRedis(a.redis.Client), limiter, a.settings,
		[]byte(cfg.Guard.ChallengeSigningKey),
		challenge.WithLogger(logger),
		challenge.WithAuditPublisher(a.audit),
		challenge.WithMetrics(m),
		challenge.WithStats(statsStore),
		challenge.WithGuard(guard(models.GateChallenge)),
	)
	if err != nil {
		return nil, err
	}
	cost, err := costthrottle.New(coststore.NewRedis(a.redis.Client), a.settings,
		costthrottle.WithLogger(logger),
		costthrottle.WithAuditPublisher(a.audit),
		costthrottle.WithMetrics(m),
		costthrottle.WithStats(statsStore),
		costthrottle.WithGuard(guard(models.GateCost)),
	)
	if err != nil {
		return nil, err
	}
	adminSvc, err := admin.New(admin.Dependencies{
		Settings:   a.settings,
		Windows:    windows,
		Allowlist:  allowlistStore,
		Cost:       cost,
		Stats:      statsStore,
		Challenges: challenges,
	}, admin.WithLogger(logger), admin.WithAuditPublisher(a.audit))
	if err != nil {
		return nil, err
	}

	a.gates = middleware.New(logger,
		middleware.WithAllowlist(allowlistStore),
		middleware.WithChallenges(challenges),
		middleware.WithRateLimiter(limiter),
		middleware.WithCostThrottle(cost),
	)
	a.handler = handler.New(challenges, adminSvc, logger)
	built = true
	return a, nil
}

// openAuditStore prefers Kafka, then PostgreSQL, then process memory.
func (a *app) openAuditStore(ctx context.Context) (audit.Store, error) {
	switch {
	case len(a.cfg.Kafka.Brokers) > 0:
		store, err := auditkafka.New(a.cfg.Kafka.Brokers, a.cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureTopic(ctx, 3, 1); err != nil {
			a.logger.WarnContext(ctx, "audit topic bootstrap failed", "topic", a.cfg.Kafka.AuditTopic, "error", err)
		}
		a.logger.InfoContext(ctx, "audit events go to kafka", "topic", a.cfg.Kafka.AuditTopic)
		return store, nil
	case a.db != nil:
		store := auditpostgres.New(a.db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		a.logger.InfoContext(ctx, "audit events go to postgres")
		return store, nil
	default:
		a.logger.InfoContext(ctx, "audit events kept in memory")
		return auditmemory.NewInMemoryStore(), nil
	}
}

func (a *app) openAllowlist(ctx context.Context) (ports.AllowlistStore, error) {
	if a.db == nil {
		return allowlist.NewInMemory(), nil
	}
	store := allowlist.NewPostgres(a.db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("allowlist schema: %w", err)
	}
	a.cleanup = store.StartCleanup
	return store, nil
}

// Router builds the process routes. Admin routes need X-Admin-Token; public
// routes run behind the identifier resolver.
func (a *app) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(a.http.Latency)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(identity.Identify(a.resolver, a.logger))
		a.handler.RegisterPublic(r, a.gates.Guard)
	})
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(a.cfg.Server.AdminToken, a.logger))
		a.handler.RegisterAdmin(r)
	})
	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Redis    string `json:"redis"`
	Postgres string `json:"postgres,omitempty"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Redis: "ok"}
	status := http.StatusOK
	if err := a.redis.Health(ctx); err != nil {
		resp.Status, resp.Redis, status = "degraded", "unreachable", http.StatusServiceUnavailable
	}
	if a.db != nil {
		resp.Postgres = "ok"
		if err := a.db.PingContext(ctx); err != nil {
			resp.Status, resp.Postgres, status = "degraded", "unreachable", http.StatusServiceUnavailable
		}
	}
	httputil.WriteJSON(w, status, resp)
}

// Close flushes pending audit events and releases connections in reverse order.
func (a *app) Close() {
	if a.audit != nil {
		a.audit.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
