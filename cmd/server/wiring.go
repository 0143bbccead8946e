package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	credentialhandler "aegis/internal/credential/handler"
	credentialmetrics "aegis/internal/credential/metrics"
	credentialservice "aegis/internal/credential/service"
	"aegis/internal/credential/signer"
	credentialstore "aegis/internal/credential/store"
	"aegis/internal/platform/config"
	"aegis/internal/platform/kafka"
	"aegis/internal/platform/metrics"
	"aegis/internal/platform/postgres"
	"aegis/internal/platform/redis"
	"aegis/internal/review/bus"
	reviewhandler "aegis/internal/review/handler"
	reviewmetrics "aegis/internal/review/metrics"
	"aegis/internal/review/reviewers"
	reviewservice "aegis/internal/review/service"
	reviewstore "aegis/internal/review/store"
	reviewworker "aegis/internal/review/worker"
	"aegis/internal/risk"
	"aegis/internal/secrets"
	"aegis/internal/signals"
	"aegis/internal/signals/device"
	"aegis/internal/signals/geolocation"
	httptransport "aegis/internal/transport/http"
	vaulthandler "aegis/internal/vault/handler"
	"aegis/internal/vault/keyring"
	vaultmetrics "aegis/internal/vault/metrics"
	vaultservice "aegis/internal/vault/service"
	vaultstore "aegis/internal/vault/store"
	"aegis/internal/verification/access"
	"aegis/internal/verification/adapters"
	verificationhandler "aegis/internal/verification/handler"
	verificationmetrics "aegis/internal/verification/metrics"
	verificationservice "aegis/internal/verification/service"
	verificationstore "aegis/internal/verification/store"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/consumer"
	"aegis/pkg/platform/audit/publishers/compliance"
	"aegis/pkg/platform/audit/publishers/ops"
	"aegis/pkg/platform/audit/publishers/security"
	"aegis/pkg/platform/audit/relay"
	auditbadger "aegis/pkg/platform/audit/store/badger"
	auditpostgres "aegis/pkg/platform/audit/store/postgres"
	auditworker "aegis/pkg/platform/audit/worker"
	txcontext "aegis/pkg/platform/tx"
)

const (
	kafkaPartitions  = 3
	kafkaReplication = 1
	reviewBusBuffer  = 256
	opsInboxCapacity = 1024
)

// backgroundTask is a loop that runs until the process shuts down.
type backgroundTask struct {
	name string
	run  func(ctx context.Context) error
}

type application struct {
	router     http.Handler
	background []backgroundTask
	closers    []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *application) onClose(fn func()) { a.closers = append(a.closers, fn) }
func (a *application) runInBackground(t backgroundTask) { a.background = append(a.background, t) }

// build loads secrets once, opens infrastructure, and assembles the modules.
// Without DATABASE_URL, REDIS_URL, or KAFKA_BROKERS the matching in-memory
// or in-process implementation is used.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	masterKey, err := secrets.LoadMasterKey(cfg.Vault, cfg.IsDevelopment(), log)
	if err != nil {
		return nil, fmt.Errorf("load vault master key: %w", err)
	}
	keys, err := keyring.New(masterKey, cfg.Vault.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("derive vault keyring: %w", err)
	}
	signingKey, err := secrets.LoadSigningKey(cfg.Credential, cfg.IsDevelopment(), log)
	if err != nil {
		return nil, fmt.Errorf("load credential signing key: %w", err)
	}
	sig, err := signer.New(signingKey)
	if err != nil {
		return nil, fmt.Errorf("credential signer: %w", err)
	}
	subjectKey, err := keyring.Derive(masterKey, access.KeyPurpose)
	if err != nil {
		return nil, fmt.Errorf("derive subject token key: %w", err)
	}
	subjectTokens, err := access.New(subjectKey, cfg.Credential.Issuer, cfg.Verification.SubjectTokenTTL)
	if err != nil {
		return nil, err
	}

	checks := map[string]httptransport.HealthCheck{}

	var db *sql.DB
	if cfg.Postgres.URL != "" {
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		app.onClose(func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		checks["postgres"] = db.PingContext
	} else {
		log.Warn("DATABASE_URL not set; verification, vault, and credential data is kept in memory")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		app.onClose(func() { _ = rc.Close() })
		checks["redis"] = rc.Health
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, kafkaPartitions, kafkaReplication,
			kafka.TopicAuditCompliance, kafka.TopicAuditSecurity, kafka.TopicAuditOps, kafka.TopicReviewCommands,
		); err != nil {
			return nil, err
		}
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return nil, err
		}
		app.onClose(producer.Close)
	}

	// Audit: the chained badger log is the durable trail. With PostgreSQL the
	// publishers write the outbox inside the aggregate's transaction instead,
	// and the relay and materializer carry events into the chained log.
	chain, err := auditbadger.Open(cfg.Audit.BadgerDir)
	if err != nil {
		return nil, err
	}
	app.onClose(func() { _ = chain.Close() })
	if err := chain.Verify(ctx); err != nil {
		log.Error("audit chain verification failed", "error", err)
	}

	var auditStore audit.Store = chain
	var tx txcontext.Runner = txcontext.NopRunner{}
	if db != nil {
		outbox := auditpostgres.New(db)
		auditStore = outbox
		tx = txcontext.SQLRunner{DB: db}
		if producer == nil {
			log.Warn("KAFKA_BROKERS not set; audit outbox rows are not relayed to the chained log")
		} else {
			r := relay.New(db, outbox, producer, relay.WithLogger(log))
			app.runInBackground(backgroundTask{name: "audit relay", run: r.Run})

			router := consumer.NewRouter(log, nil)
			materializer := consumer.NewMaterializer(chain, log)
			for _, topic := range []string{kafka.TopicAuditCompliance, kafka.TopicAuditSecurity, kafka.TopicAuditOps} {
				router.Register(topic, materializer)
			}
			c, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup+"-audit",
				[]string{kafka.TopicAuditCompliance, kafka.TopicAuditSecurity, kafka.TopicAuditOps}, router, log)
			if err != nil {
				return nil, err
			}
			app.onClose(c.Close)
			app.runInBackground(backgroundTask{name: "audit materializer", run: c.Run})
		}
	}

	compliancePub := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	securityPub := security.New(auditStore, security.WithLogger(log))
	app.onClose(func() { _ = securityPub.Close() })

	opsInbox := auditworker.NewChannelStore(opsInboxCapacity)
	opsWorker := auditworker.NewWorker(auditStore, opsInbox.Inbox(), log)
	app.runInBackground(backgroundTask{name: "ops audit worker", run: opsWorker.Run})
	opsTracker := ops.New(opsInbox,
		ops.WithSampler(ops.NewSampler(cfg.Audit.OpsSampleRate)),
		ops.WithMetrics(ops.NewMetrics()),
		ops.WithLogger(log),
	)

	// Stores.
	var (
		vaultStore        vaultservice.Store
		verificationStore verificationservice.Store
		credentialStore   credentialservice.Store
		reviewStore       reviewservice.Store
	)
	if db != nil {
		vaultStore = vaultstore.NewPostgres(db)
		verificationStore = verificationstore.NewPostgres(db)
		credentialStore = credentialstore.NewPostgres(db)
	} else {
		vaultStore = vaultstore.NewInMemory()
		verificationStore = verificationstore.NewInMemory()
		credentialStore = credentialstore.NewInMemory()
	}
	if rc != nil {
		reviewStore = reviewstore.NewRedis(rc.Client)
	} else {
		reviewStore = reviewstore.NewInMemory()
	}

	// Identity vault.
	vaultSvc := vaultservice.New(vaultStore, keys, compliancePub,
		vaultservice.WithLogger(log),
		vaultservice.WithMetrics(vaultmetrics.New()),
		vaultservice.WithTxRunner(tx),
		vaultservice.WithSecurityPublisher(securityPub),
		vaultservice.WithOpsTracker(opsTracker),
	)

	// Risk engine and signal producers.
	policy := risk.DefaultPolicy()
	if cfg.RiskPolicyFile != "" {
		policy, err = risk.LoadPolicy(cfg.RiskPolicyFile)
		if err != nil {
			return nil, err
		}
	}
	engine, err := risk.NewEngine(policy, risk.WithMetrics(risk.NewMetrics()))
	if err != nil {
		return nil, err
	}
	log.Info("risk policy loaded", "version", policy.Version)

	producers := []signals.Producer{device.NewProducer()}
	if cfg.Signals.GeoLookupURL != "" {
		geo, err := geolocation.NewProducer(cfg.Signals.GeoLookupURL,
			geolocation.WithAllowedCountries(cfg.Signals.AllowedCountries),
		)
		if err != nil {
			return nil, err
		}
		producers = append(producers, geo)
	}
	collector := signals.NewCollector(producers,
		signals.WithTimeout(cfg.Signals.Timeout),
		signals.WithRateLimit(cfg.Signals.RatePerSecond, cfg.Signals.Burst),
		signals.WithMetrics(signals.NewMetrics()),
		signals.WithLogger(log),
	)

	// Credential issuer.
	credentialSvc, err := credentialservice.New(credentialStore, sig, compliancePub,
		credentialservice.WithLogger(log),
		credentialservice.WithMetrics(credentialmetrics.New()),
		credentialservice.WithTxRunner(tx),
		credentialservice.WithSecurityPublisher(securityPub),
		credentialservice.WithValidity(cfg.Credential.Validity),
		credentialservice.WithIssuer(cfg.Credential.Issuer),
	)
	if err != nil {
		return nil, err
	}
	app.runInBackground(backgroundTask{name: "credential expiry sweep", run: func(ctx context.Context) error {
		return sweepExpired(ctx, credentialSvc, cfg.Credential.SweepInterval, log)
	}})

	// Manual review queue and its command bus.
	var commands bus.Publisher
	var channelBus *bus.ChannelBus
	if producer != nil {
		commands = bus.NewKafkaPublisher(producer)
	} else {
		channelBus = bus.NewChannelBus(reviewBusBuffer)
		commands = channelBus
	}
	reviewSvc, err := reviewservice.New(reviewStore, commands, compliancePub,
		reviewservice.WithLogger(log),
		reviewservice.WithMetrics(reviewmetrics.New()),
		reviewservice.WithSecurityPublisher(securityPub),
		reviewservice.WithOpsTracker(opsTracker),
	)
	if err != nil {
		return nil, err
	}

	// Verification state machine.
	verificationSvc, err := verificationservice.New(verificationStore, engine, compliancePub,
		verificationservice.WithLogger(log),
		verificationservice.WithMetrics(verificationmetrics.New()),
		verificationservice.WithSignalCollector(collector),
		verificationservice.WithCredentialIssuer(adapters.NewCredentialIssuer(credentialSvc)),
		verificationservice.WithReviewQueue(adapters.NewReviewQueue(reviewSvc)),
		verificationservice.WithTxRunner(tx),
		verificationservice.WithSecurityPublisher(securityPub),
		verificationservice.WithOpsTracker(opsTracker),
		verificationservice.WithMaxAttempts(cfg.Verification.MaxTransitionAttempts),
	)
	if err != nil {
		return nil, err
	}

	applier := reviewworker.New(verificationSvc, log)
	if channelBus != nil {
		app.runInBackground(backgroundTask{name: "review command bus", run: func(ctx context.Context) error {
			return channelBus.Run(ctx, applier.Handle, time.Second)
		}})
	} else {
		c, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup+"-review",
			[]string{kafka.TopicReviewCommands},
			bus.KafkaHandler(applier.Handle, func(msg *kafka.Message, err error) {
				log.Error("skipping undecodable review command", "offset", msg.Offset, "error", err)
			}), log)
		if err != nil {
			return nil, err
		}
		app.onClose(c.Close)
		app.runInBackground(backgroundTask{name: "review command consumer", run: c.Run})
	}

	registry, err := reviewers.NewRegistry(cfg.Review.ReviewerTokens)
	if err != nil {
		return nil, fmt.Errorf("reviewer tokens: %w", err)
	}
	if registry.Len() == 0 {
		log.Warn("REVIEWER_TOKENS not set; no reviewer can authenticate")
	}
	if cfg.Verification.ProviderTokenHash == "" {
		log.Warn("CHECK_PROVIDER_TOKEN_HASH not set; step results cannot be reported")
	}

	verificationHTTP := verificationhandler.New(verificationSvc, subjectTokens, log)
	credentialHTTP := credentialhandler.New(credentialSvc, log)
	app.router = httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        metrics.New(version),
		TrustProxy:     cfg.Server.TrustProxy,
		RequestTimeout: cfg.Server.RequestTimeout,
		Public: []httptransport.Registrar{
			verificationHTTP,
			credentialHTTP,
		},
		Subject:              []httptransport.SubjectRegistrar{verificationHTTP},
		SubjectAuthenticator: subjectTokens,
		Provider:             []httptransport.ProviderRegistrar{verificationHTTP},
		ProviderVerify:       reviewers.TokenVerifier(cfg.Verification.ProviderTokenHash),
		Reviewer:             []httptransport.Registrar{reviewhandler.New(reviewSvc, log)},
		Authenticator:        registry,
		Admin: []httptransport.AdminRegistrar{
			vaulthandler.New(vaultSvc, log),
			credentialHTTP,
		},
		AdminVerify: reviewers.TokenVerifier(cfg.Review.AdminTokenHash),
		Checks:      checks,
	})
	return app, nil
}

// sweepExpired moves credentials past their expiry to Expired on a fixed
// interval. A failed pass is logged and retried on the next tick.
func sweepExpired(ctx context.Context, svc *credentialservice.Service, interval time.Duration, log *slog.Logger) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := svc.ExpireDue(ctx); err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "credential expiry sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
