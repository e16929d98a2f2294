package main

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	batchservice "healthcred/internal/batch/service"
	batchstore "healthcred/internal/batch/store"
	"healthcred/internal/batch/worker"
	"healthcred/internal/category"
	"healthcred/internal/consent"
	"healthcred/internal/credential/models"
	"healthcred/internal/credential/validator"
	"healthcred/internal/entity"
	"healthcred/internal/holder"
	holderstore "healthcred/internal/holder/store"
	"healthcred/internal/issuance"
	"healthcred/internal/issuerkeys"
	"healthcred/internal/mapper"
	mapperstore "healthcred/internal/mapper/store"
	"healthcred/internal/orgcontext"
	"healthcred/internal/platform/config"
	"healthcred/internal/platform/database"
	"healthcred/internal/platform/health"
	"healthcred/internal/platform/httpclient"
	"healthcred/internal/platform/kafka/producer"
	"healthcred/internal/platform/metrics"
	"healthcred/internal/platform/objectstore"
	"healthcred/internal/platform/redis"
	"healthcred/internal/platform/tracing"
	submission "healthcred/internal/submission/service"
	statsstore "healthcred/internal/submission/store"
	httptransport "healthcred/internal/transport/http"
	"healthcred/internal/verifier"
	"healthcred/internal/verifier/plugins/issuersigned"
	"healthcred/internal/verifier/plugins/jwtvc"
	"healthcred/internal/verifier/plugins/sdjwt"
	"healthcred/internal/verifier/plugins/selfattested"
	"healthcred/internal/verifier/plugins/shc"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/audit/outbox"
	outboxmetrics "healthcred/pkg/platform/audit/outbox/metrics"
	outboxstore "healthcred/pkg/platform/audit/outbox/store/postgres"
	outboxworker "healthcred/pkg/platform/audit/outbox/worker"
	"healthcred/pkg/platform/audit/publisher"
	"healthcred/pkg/platform/circuit"
	"healthcred/pkg/platform/middleware/request"
	"healthcred/pkg/platform/retry"
)

// infra holds the optional backends. A nil field means the backend is not
// configured and the in-memory implementation is used instead.
type infra struct {
	db       *database.Pool
	redis    *redis.Client
	producer *producer.Producer
	s3       *objectstore.S3Store
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	db, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, err
	}
	in.db = db
	if db != nil {
		if err := database.Migrate(ctx, db.DB()); err != nil {
			in.Close(log)
			return nil, err
		}
		log.Info("postgres connected, migrations applied")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, redis.DefaultConfig(cfg.RedisURL))
	if err != nil {
		in.Close(log)
		return nil, err
	}
	in.redis = rc

	if len(cfg.KafkaBrokers) > 0 {
		p, err := producer.New(producer.DefaultConfig(cfg.KafkaBrokers), log)
		if err != nil {
			in.Close(log)
			return nil, err
		}
		in.producer = p
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox entries are not relayed")
	}

	if cfg.S3Bucket != "" {
		s3, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			in.Close(log)
			return nil, err
		}
		in.s3 = s3
	}
	return in, nil
}

func (in *infra) Close(log *slog.Logger) {
	if in.producer != nil {
		if err := in.producer.Close(); err != nil {
			log.Warn("failed to close kafka producer", "error", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}
	if err := in.db.Close(); err != nil {
		log.Warn("failed to close database pool", "error", err)
	}
}

// batchRows is the batch queue and report table, Postgres or in-memory.
type batchRows interface {
	batchstore.Queue
	batchstore.Reports
}

type app struct {
	router       http.Handler
	batchWorker  *worker.Worker
	outboxWorker *outboxworker.Worker
	outboxPruner *outboxworker.Pruner
}

// unconfiguredKeys answers every issuer key lookup with a transient error,
// so issuer-signed credentials fail verification instead of the process
// refusing to start.
type unconfiguredKeys struct{}

func (unconfiguredKeys) FetchKey(context.Context, string, string, string) (crypto.PublicKey, error) {
	return nil, dErrors.New(dErrors.CodeTransient, "issuer key service is not configured")
}

// outboxPublisher returns nil when no Kafka producer is configured. Nothing
// would drain the outbox then, so events are only logged.
func outboxPublisher(in *infra, store outbox.Store, log *slog.Logger) *publisher.Publisher {
	if in.producer == nil {
		log.Warn("KAFKA_BROKERS not set, audit events and batch reports are logged only")
		return nil
	}
	return publisher.NewPublisher(store)
}

func buildApp(cfg *config.Config, in *infra, log *slog.Logger) (*app, error) {
	tracer := tracing.NewOTel(nil)
	client := func(service, baseURL string) *httpclient.Client {
		return httpclient.New(httpclient.Config{
			Service: service,
			BaseURL: baseURL,
			APIKey:  cfg.ServiceAPIKey,
			Timeout: cfg.OutboundTimeout,
			Retry:   retry.Policy{MaxRetries: cfg.OutboundRetries, Delay: cfg.OutboundRetryDelay},
			Breaker: circuit.New(service,
				circuit.WithFailureThreshold(cfg.OutboundBreakerFailures),
				circuit.WithCooldown(cfg.OutboundBreakerCooldown),
				circuit.WithStateChange(func(name string, from, to circuit.State) {
					metrics.OutboundCircuit.WithLabelValues(name).Set(float64(to))
					log.Warn("outbound circuit changed state", "service", name, "from", from.String(), "to", to.String())
				}),
			),
			Logger: log,
		})
	}

	// outbox and audit
	var outboxStore outbox.Store = outbox.NewMemoryStore()
	if in.db != nil {
		outboxStore = outboxstore.New(in.db.DB())
	}
	pub := outboxPublisher(in, outboxStore, log)
	var emitter audit.Emitter
	if pub != nil {
		emitter = pub
	}
	auditor := audit.NewLogger(log, emitter)

	// stores
	var (
		holders  holder.Store           = holderstore.NewMemory()
		entities category.EntityStore   = entity.NewMemory()
		mappers  mapper.Store           = mapperstore.NewMemory()
		stats    submission.StatsWriter = statsstore.NewMemory()
		objects  objectstore.Store      = objectstore.NewMemory()
		rows     batchRows              = batchstore.NewMemory()
	)
	if in.db != nil {
		db := in.db.DB()
		holders = holderstore.NewPostgres(db)
		entities = entity.NewPostgres(db)
		mappers = mapperstore.NewPostgres(db)
		stats = statsstore.NewPostgres(db)
		rows = batchstore.NewPostgres(db)
	}
	engineOpts := []mapper.Option{mapper.WithCacheTTL(cfg.MapperCacheTTL), mapper.WithLogger(log)}
	if in.redis != nil {
		shared := mapperstore.NewRedisCache(in.redis.Client, mappers, cfg.MapperCacheTTL, log)
		mappers = shared
		engineOpts = append(engineOpts, mapper.WithSharedCache(shared))
	}
	if in.s3 != nil {
		objects = in.s3
	}

	var documents holder.Documents = holder.NewMemoryDocuments()
	if cfg.DocumentServiceURL != "" {
		documents = holder.NewDocumentClient(client("document", cfg.DocumentServiceURL))
	} else {
		log.Warn("DOCUMENT_SERVICE_URL not set, bundles are read from memory")
	}

	var keySource issuerkeys.Source = unconfiguredKeys{}
	if cfg.IssuerKeyServiceURL != "" {
		keySource = issuerkeys.NewHTTPSource(client("issuer-keys", cfg.IssuerKeyServiceURL))
	}
	engine, err := mapper.NewEngine(mappers, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("build mapping engine: %w", err)
	}
	orgs := orgcontext.NewRegistry(keySource,
		orgcontext.WithLogger(log),
		orgcontext.WithInvalidationHook(engine.EntityHook(entities)),
	)

	// verification
	plugins := verifier.NewRegistry(log).MustRegister(
		selfattested.New(models.KeyEncodingPEM),
		selfattested.New(models.KeyEncodingJWK),
		issuersigned.New(),
		jwtvc.New(),
		sdjwt.New(),
		shc.New(),
	)
	log.Info("verifier plugins registered", "plugins", plugins.Plugins())

	consentValidator := consent.NewValidator(plugins, documents,
		consent.WithMaxAge(cfg.ConsentMaxAge),
		consent.WithClockSkew(cfg.ConsentClockSkew),
		consent.WithTransformer(engine),
		consent.WithLogger(log),
		consent.WithAuditor(auditor),
		consent.WithTracer(tracer),
	)
	credentialValidator := validator.New(plugins,
		validator.WithTransformer(engine),
		validator.WithMetadataProfiles(validator.DefaultMetadataProfiles()...),
		validator.WithLogger(log),
		validator.WithTracer(tracer),
	)

	submissions := submission.New(submission.Deps{
		Holders:     holders,
		Entities:    entities,
		Documents:   documents,
		Orgs:        orgs,
		Consent:     consentValidator,
		Credentials: credentialValidator,
		Objects:     objects,
		Stats:       stats,
		Auditor:     auditor,
	}, submission.WithLogger(log), submission.WithTracer(tracer))

	// batch ingestion
	categories := category.NewRegistry(entities, log)
	workerDeps := worker.Deps{
		Queue:   rows,
		Reports: rows,
		Capabilities: worker.CapabilityFunc(func(ctx context.Context, entityID string) (worker.Preparer, error) {
			return categories.For(ctx, entityID)
		}),
		Submitter: submissions,
		Auditor:   auditor,
	}
	if pub != nil {
		workerDeps.Publisher = pub
	}
	var issuer *issuance.Client
	if cfg.IssuanceServiceURL != "" {
		issuer = issuance.NewClient(client("issuance", cfg.IssuanceServiceURL))
		workerDeps.Issuer = issuer
	} else {
		log.Warn("ISSUANCE_SERVICE_URL not set, batch uploads are refused")
	}
	batchWorker := worker.New(workerDeps,
		worker.WithMinInterval(cfg.BatchMinInterval),
		worker.WithErrorThreshold(cfg.BatchErrorThreshold),
		worker.WithLogger(log),
		worker.WithTracer(tracer),
	)
	batches := batchservice.New(rows, rows, batchWorker,
		batchservice.WithChunkSize(cfg.BatchChunkSize),
		batchservice.WithReadback(cfg.BatchReadbackAttempts, cfg.BatchReadbackDelay),
		batchservice.WithLogger(log),
		batchservice.WithTracer(tracer),
	)

	var uploader category.Uploader
	if issuer != nil {
		uploader = batches
	}
	if err := categories.Register(
		category.NewIndividual(submissions),
		category.NewOrganization(submissions, uploader),
	); err != nil {
		return nil, err
	}

	// http
	checks := health.New(cfg.Environment)
	if in.db != nil {
		checks.RegisterCheck("postgres", in.db.Health)
	}
	if in.redis != nil {
		checks.RegisterOptional("redis", in.redis.Health)
	}
	if in.producer != nil {
		checks.RegisterOptional("kafka", in.producer.Check)
	}
	if in.s3 != nil {
		checks.RegisterCheck("s3", in.s3.Check)
	}

	deps := httptransport.Deps{
		Capabilities: categories,
		Submissions:  submissions,
		Batches:      batches,
		Holders:      holders,
		OrgContexts:  orgs,
	}
	if issuer != nil {
		deps.Issuer = issuer
	}
	router := httptransport.NewRouter(
		httptransport.NewHandler(deps, log),
		httptransport.RouterConfig{
			Metrics: request.NewMetrics(prometheus.DefaultRegisterer),
			Health:  checks,
		},
		log,
	)

	a := &app{router: router, batchWorker: batchWorker}
	if in.producer != nil {
		outboxMetrics := outboxmetrics.New(prometheus.DefaultRegisterer)
		a.outboxWorker = outboxworker.New(outboxStore, in.producer,
			outboxworker.WithTopic(cfg.KafkaTopicEvents),
			outboxworker.WithEventTopic(worker.EventBatchReport, cfg.KafkaTopicReports),
			outboxworker.WithBatchSize(cfg.OutboxBatchSize),
			outboxworker.WithPollInterval(cfg.OutboxPollInterval),
			outboxworker.WithMetrics(outboxMetrics),
			outboxworker.WithLogger(log),
		)
		a.outboxPruner = outboxworker.NewPruner(outboxStore, cfg.OutboxRetention, cfg.OutboxPruneInterval, outboxMetrics, log)
	}
	return a, nil
}
