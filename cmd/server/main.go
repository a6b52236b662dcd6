// Command server runs the compliance control plane API: answer snapshots in,
// resolved control sets and explanations out.
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

	_ "github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"

	"controlplane/internal/catalog"
	catalogstore "controlplane/internal/catalog/store"
	"controlplane/internal/explain"
	explainstore "controlplane/internal/explain/store"
	"controlplane/internal/overlay"
	"controlplane/internal/platform/config"
	"controlplane/internal/platform/httpserver"
	"controlplane/internal/platform/logger"
	"controlplane/internal/platform/metrics"
	platformredis "controlplane/internal/platform/redis"
	"controlplane/internal/platform/token"
	"controlplane/internal/resolution"
	"controlplane/internal/resolution/adapters"
	"controlplane/internal/resolution/handler"
	"controlplane/internal/resolution/lock"
	resolutionmetrics "controlplane/internal/resolution/metrics"
	resolutionstore "controlplane/internal/resolution/store"
	"controlplane/internal/snapshot"
	snapshotstore "controlplane/internal/snapshot/store"
	"controlplane/internal/tailoring"
	tailoringstore "controlplane/internal/tailoring/store"
	httptransport "controlplane/internal/transport/http"
	audit "controlplane/pkg/platform/audit"
	auditconsumer "controlplane/pkg/platform/audit/consumer"
	auditpostgres "controlplane/pkg/platform/audit/store/postgres"
	auditworker "controlplane/pkg/platform/audit/worker"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(cfg.Postgres)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Catalog, read-through cached when Redis is configured.
	var catStore catalog.Store = catalogstore.NewPostgres(db)
	if redisClient != nil {
		catStore = catalogstore.NewCached(catStore, redisClient.Client, cfg.Redis.CacheTTL, log)
	}
	cat := catalog.New(catStore, catalog.WithLogger(log))

	snapshots := snapshot.NewService(snapshotstore.NewPostgres(db), snapshot.WithLogger(log))

	explainStore := explainstore.NewPostgres(db)
	explains := explain.NewService(explainStore, explain.WithLogger(log))

	auditStore := auditpostgres.New(db)
	publisher := audit.NewPublisher(auditStore, log)

	httpMetrics := metrics.New()
	engineMetrics := resolutionmetrics.New(httpMetrics.Registry())

	mergePolicy := overlay.MergeFieldGranularity
	if cfg.Resolution.MergePolicy == "record" {
		mergePolicy = overlay.MergeWholeRecord
	}

	resolver := resolution.NewService(
		resolutionstore.NewPostgres(db),
		cat,
		snapshots,
		explainStore,
		lock.NewPostgres(db),
		resolution.WithLogger(log),
		resolution.WithMetrics(engineMetrics),
		resolution.WithAuditPublisher(publisher),
		resolution.WithReferenceSource(adapters.NewSnapshotReference(snapshots, nil)),
		resolution.WithMergePolicy(mergePolicy),
	)

	tailorings := tailoring.NewService(tailoringstore.NewPostgres(db), cat, tailoring.WithLogger(log))

	tokens := token.NewService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	apiHandler := handler.New(resolver, explains, tailorings, snapshots, log, httpMetrics, tokens)

	checks := map[string]httptransport.HealthChecker{
		"postgres": dbHealth{db: db},
	}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	router := httptransport.NewRouter(apiHandler, httpMetrics, checks)
	srv := httpserver.New(cfg.Server.Addr, router)

	// Audit pipeline: outbox relay out, materializing consumer back in.
	// Without brokers, events stay queryable in the outbox.
	if len(cfg.Kafka.Brokers) > 0 {
		if err := startAuditPipeline(ctx, cfg.Kafka, db, auditStore, log); err != nil {
			log.Error("audit pipeline failed to start", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		log.Info("starting controlplane", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := httpserver.Shutdown(srv, cfg.Server.ShutdownTimeout); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

func openPostgres(cfg config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func startAuditPipeline(ctx context.Context, cfg config.Kafka, db *sql.DB, store *auditpostgres.Store, log *slog.Logger) error {
	producer, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return err
	}
	relay := auditworker.NewRelay(db, producer, log, cfg.RelayInterval, cfg.RelayBatch)
	if err := relay.EnsureTopics(ctx, 3, 1); err != nil {
		producer.Close()
		return err
	}

	reader, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup("controlplane-audit-materializer"),
		kgo.ConsumeTopics(auditconsumer.Topics()...),
	)
	if err != nil {
		producer.Close()
		return err
	}
	consumer := auditconsumer.New(reader, store, log)

	go func() {
		defer producer.Close()
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit relay stopped", "error", err)
		}
	}()
	go func() {
		defer reader.Close()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit consumer stopped", "error", err)
		}
	}()
	return nil
}

type dbHealth struct {
	db *sql.DB
}

func (h dbHealth) Health(ctx context.Context) error {
	return h.db.PingContext(ctx)
}
