package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"vcissuer/internal/audit"
	"vcissuer/internal/deferred"
	"vcissuer/internal/domain"
	"vcissuer/internal/factory"
	"vcissuer/internal/issuerid"
	"vcissuer/internal/notify"
	"vcissuer/internal/offer"
	"vcissuer/internal/platform/config"
	"vcissuer/internal/platform/database"
	"vcissuer/internal/platform/kafka/producer"
	"vcissuer/internal/platform/logger"
	"vcissuer/internal/platform/metrics"
	platformredis "vcissuer/internal/platform/redis"
	"vcissuer/internal/policy"
	"vcissuer/internal/procedure"
	"vcissuer/internal/proofcheck"
	"vcissuer/internal/signer"
	"vcissuer/internal/signingconfig"
	httptransport "vcissuer/internal/transport/http"
	"vcissuer/internal/trustframework"
	"vcissuer/internal/vault"
	"vcissuer/internal/verifier"
	"vcissuer/internal/webhook"
	"vcissuer/internal/workflow"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	log.Info("initializing credential issuer",
		"addr", cfg.Server.Addr,
		"external_url", cfg.Server.ExternalURL,
	)

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		procedures procedure.Store
		metadata   deferred.Store
	)
	pool, err := database.New(cfg.Database)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		procedures = procedure.NewPostgres(pool.DB())
		metadata = deferred.NewPostgres(pool.DB())
		defer pool.Close()
		log.Info("using postgres stores")
	} else {
		procedures = procedure.NewMemoryStore()
		metadata = deferred.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// Offer cache and secret store: Redis when configured.
	var (
		offers  offer.Cache
		secrets vault.Store
	)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		offers = offer.NewRedisCache(redisClient.Client)
		secrets = vault.NewRedisStore(redisClient.Client)
		defer redisClient.Close()
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				redisClient.RecordPoolStats()
			}
		}()
		log.Info("using redis offer cache and secret store")
	} else {
		offers = offer.NewMemoryCache()
		secrets = vault.NewMemoryStore()
		log.Warn("REDIS_URL not set, using in-memory offer cache and secret store")
	}

	// Audit trail: Kafka when configured.
	var recorder audit.Recorder
	if cfg.Kafka.Brokers != "" {
		kafkaProducer, err := producer.New(cfg.Kafka, log)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		defer kafkaProducer.Close()
		recorder = audit.NewKafkaRecorder(kafkaProducer, cfg.Kafka)
		log.Info("audit events publishing to kafka", "topic", cfg.Kafka.AuditTopic)
	} else {
		recorder = audit.NewMemoryRecorder()
		log.Warn("KAFKA_BROKERS not set, audit events kept in memory")
	}

	notifier, err := notify.NewEmailService(cfg.SMTP, notify.WithLogger(log), notify.WithMetrics(m))
	if err != nil {
		log.Error("email service init failed", "error", err)
		os.Exit(1)
	}

	signerClient := signer.NewClient(cfg.Signer)
	signingConfigs := signingconfig.NewMemoryProvider(domain.SignatureModeServer)

	resolver := issuerid.New(cfg.Issuer, procedures, signingConfigs, secrets, signerClient,
		issuerid.WithLogger(log),
		issuerid.WithMetrics(m),
		issuerid.WithRecoveryHook(func(ctx context.Context, procedureID uuid.UUID, cause error) error {
			return recorder.Record(ctx, audit.Event{
				Action:      "issuer.resolution_failed",
				ProcedureID: procedureID.String(),
				Details:     map[string]any{"error": cause.Error()},
			})
		}),
	)

	service := workflow.New(cfg.Issuance, cfg.Server, workflow.Deps{
		Procedures: procedures,
		Metadata:   metadata,
		Offers:     offers,
		Authz:      policy.New(verifier.NewJWT(cfg.Server.JWTSigningKey), policy.WithLogger(log), policy.WithMetrics(m)),
		Builder:    factory.New(cfg.Issuance, procedures, metadata, factory.WithLogger(log)),
		Configs:    signingConfigs,
		Resolver:   resolver,
		Pipeline:   signer.NewPipeline(signerClient, signer.WithLogger(log), signer.WithMetrics(m)),
		Tokens:     signerClient,
		Proofs:     proofcheck.NewValidator(),
		Registry:   trustframework.NewClient(cfg.TrustList, trustframework.WithLogger(log)),
		Notifier:   notifier,
		Deliverer:  webhook.NewClient(cfg.Signer.RequestTimeout, webhook.WithLogger(log)),
		Audit:      recorder,
	}, workflow.WithLogger(log), workflow.WithMetrics(m))

	var checks []httptransport.HealthCheck
	if pool != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "database", Probe: pool.Health})
	}
	if redisClient != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "redis", Probe: redisClient.Health})
	}

	router := httptransport.NewRouter(
		httptransport.NewProcedureHandler(service, procedures),
		httptransport.NewOID4VCIHandler(service),
		log,
		httptransport.WithHealthChecks(checks...),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
