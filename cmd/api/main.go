package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"clinic-cti/internal/audit"
	"clinic-cti/internal/auth"
	"clinic-cti/internal/callbacks"
	"clinic-cti/internal/calls"
	"clinic-cti/internal/config"
	"clinic-cti/internal/correlator"
	"clinic-cti/internal/httpapi"
	"clinic-cti/internal/notify"
	"clinic-cti/internal/patients"
	"clinic-cti/internal/reporting"
	"clinic-cti/internal/sweep"
	"clinic-cti/internal/telephony"
	"clinic-cti/pkg/logger"
	"clinic-cti/pkg/phone"
	"clinic-cti/pkg/tracing"
	"clinic-cti/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := tracing.Setup(rootCtx, tracing.Config{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		Environment: cfg.App.Env,
	})
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	app := build(cfg, postgresStores(cfg, db, rdb))

	if cfg.CTI.SweepInterval > 0 {
		go app.sweeper.Run(rootCtx, cfg.CTI.SweepInterval)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz"))
	registerRoutes(r, app.routes(verifier,
		healthCheck{Name: "postgres", Check: func(ctx context.Context) error { return utils.HealthCheck(ctx, db, time.Second) }},
		healthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"lock_backend", cfg.CTI.LockBackend,
			"excluded_numbers", app.exclusions.Len(),
			"window", cfg.CTI.CorrelationWindow.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}
}

// application holds the wired components. Built once at startup; no globals.
type application struct {
	cfg        config.Config
	exclusions phone.ExclusionList
	calls      calls.Repository
	resolver   *patients.Resolver
	engine     *correlator.Engine
	sweeper    *sweep.Sweeper
}

// stores are the persistence and messaging backends the components run on.
type stores struct {
	calls     calls.Repository
	patients  patients.Directory
	callbacks callbacks.Store
	audit     audit.Repository
	publisher notify.Publisher
	locker    correlator.Locker
}

func postgresStores(cfg config.Config, db *sql.DB, rdb *redis.Client) stores {
	var locker correlator.Locker = correlator.NewKeyedMutex()
	if cfg.CTI.LockBackend == "redis" {
		locker = correlator.NewRedisLocker(rdb, cfg.CTI.LockTTL)
	}
	return stores{
		calls:     calls.NewPostgresRepo(db),
		patients:  patients.NewPostgresRepo(db),
		callbacks: callbacks.NewPostgresRepo(db),
		audit:     audit.NewPostgresRepo(db),
		publisher: notify.NewRedisPublisher(rdb),
		locker:    locker,
	}
}

func build(cfg config.Config, st stores) *application {
	auditSvc := audit.NewService(st.audit)

	offset := cfg.CTI.ClinicUTCOffset
	matcher := callbacks.NewMatcher(st.callbacks, st.calls, auditSvc, offset,
		callbacks.NewRecordSource(st.callbacks),
		callbacks.NewInlineSource(st.callbacks, st.patients, offset),
	)
	emitter := notify.NewEmitter(st.publisher, cfg.CTI.NotifyChannel, 0)
	resolver := patients.NewResolver(st.patients)

	engine := &correlator.Engine{
		Calls:     st.calls,
		Identity:  resolver,
		Contacts:  st.patients,
		Callbacks: matcher,
		Notifier:  emitter,
		Locker:    st.locker,
		Window:    cfg.CTI.CorrelationWindow,
		NewID:     uuid.NewString,
		Tracer:    otel.Tracer("clinic-cti/correlator"),
	}

	return &application{
		cfg:        cfg,
		exclusions: phone.NewExclusionList(cfg.CTI.Excluded()...),
		calls:      st.calls,
		resolver:   resolver,
		engine:     engine,
		sweeper: &sweep.Sweeper{
			Calls:    st.calls,
			Notifier: emitter,
			Audit:    auditSvc,
			Locker:   st.locker,
			Window:   cfg.CTI.CorrelationWindow,
			Batch:    cfg.CTI.SweepBatch,
		},
	}
}

func (a *application) routes(v *auth.Verifier, health ...healthCheck) routeDeps {
	return routeDeps{
		Webhook: telephony.CTIWebhookHandler{
			Correlator:   a.engine,
			Exclusions:   a.exclusions,
			Token:        a.cfg.CTI.WebhookToken,
			Timeout:      a.cfg.CTI.RequestTimeout,
			ClinicOffset: a.cfg.CTI.ClinicUTCOffset,
		},
		ReadAPI: httpapi.Handlers{
			Calls:        a.calls,
			Patients:     a.resolver,
			Reports:      reporting.NewService(a.calls),
			ClinicOffset: a.cfg.CTI.ClinicUTCOffset,
		},
		ReadAccess: httpapi.ReadAccess(v, nil),
		Health:     health,
	}
}
