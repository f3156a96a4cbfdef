package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TimurManjosov/saferollout/internal/api"
	"github.com/TimurManjosov/saferollout/internal/audit"
	"github.com/TimurManjosov/saferollout/internal/config"
	"github.com/TimurManjosov/saferollout/internal/health"
	"github.com/TimurManjosov/saferollout/internal/notify"
	"github.com/TimurManjosov/saferollout/internal/poller"
	"github.com/TimurManjosov/saferollout/internal/revision"
	"github.com/TimurManjosov/saferollout/internal/staleness"
	"github.com/TimurManjosov/saferollout/internal/store"
	"github.com/TimurManjosov/saferollout/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	metrics := telemetry.NewPrometheus(prometheus.NewRegistry())

	var dispatcher *notify.Dispatcher
	if cfg.NotifyURL != "" {
		dispatcher = notify.NewDispatcher([]notify.Endpoint{{
			URL:        cfg.NotifyURL,
			Secret:     cfg.NotifySecret,
			MaxRetries: cfg.NotifyRetries,
		}})
		dispatcher.Start()
		defer func() { _ = dispatcher.Close() }()
	}

	auditSvc := audit.NewService(audit.LogSink{}, audit.SystemClock{})
	revisions := revision.NewService(st, auditSvc, time.Now)
	engine := health.NewEngine(health.ThresholdEvaluator{}, revisions)

	var notifier poller.Notifier
	if dispatcher != nil {
		notifier = dispatcher
	}
	poll := poller.New(poller.Config{
		Interval: cfg.PollInterval,
		Org:      health.OrgContext{HasDecisionFramework: cfg.PremiumFeatures},
	}, st, engine, notifier, metrics)
	go func() {
		if err := poll.Run(ctx); err != nil {
			log.Fatalf("poller: %v", err)
		}
	}()

	classifier := staleness.New(time.Duration(cfg.StaleAfterDays)*24*time.Hour, time.Now)
	srvAPI := api.NewServer(st, classifier, poll, cfg.AdminAPIKey)
	srvAPI.Use(metrics.Middleware)
	srvAPI.SetMetrics(metrics)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		log.Printf("metrics on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	log.Println("stopped")
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreType == "memory" {
		return store.NewMemoryStore(), nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return store.NewPostgresStore(ctx, pool)
}
