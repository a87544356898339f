package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/cdm"
	"github.com/Ramsey-B/fern/pkg/checkpoint"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/driver/jsonfile"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/kb"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	"github.com/Ramsey-B/fern/pkg/units"
)

const (
	depTracing  = "tracing"
	depPostgres = "postgres"
	depRedis    = "redis"
	depGraph    = "graph"
	depKafka    = "kafka"
)

// App holds the process-wide dependencies. Fields backed by optional
// infrastructure are nil when that infrastructure is not configured.
type App struct {
	Config *config.Config
	Logger ectologger.Logger

	Resolver     *units.Resolver
	Registry     *registry.Registry
	Checkpoints  *checkpoint.Service
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Checker
	Runs         *repositories.RunRepository

	DB       database.DB
	Redis    redis.UniversalClient
	Graph    *graph.Client
	Producer *events.Producer
	CdmPool  *cdm.Pool

	startup         *startup.Startup
	shutdownTracing func(context.Context) error
}

// New loads the endpoint catalog and registers the infrastructure
// dependencies. Nothing connects until Start.
func New(cfg *config.Config, logger ectologger.Logger) (*App, error) {
	catalog, err := units.Load(cfg.EndpointsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints from %s: %w", cfg.EndpointsFile, err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Resolver: units.NewResolver(catalog),
		CdmPool: cdm.NewPool(database.PoolConfig{
			MaxOpenConns:    cfg.CdmMaxOpenConns,
			MaxIdleConns:    cfg.CdmMaxIdleConns,
			ConnMaxLifetime: cfg.CdmConnMaxLifetime,
		}, logger),
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}
	a.registerDependencies()
	return a, nil
}

func (a *App) registerDependencies() {
	cfg := a.Config

	if cfg.OTLPEnabled {
		a.startup.AddDependency(startup.Func{
			Name:    depTracing,
			OnStart: a.startTracing,
			OnStop: func(ctx context.Context) error {
				if a.shutdownTracing == nil {
					return nil
				}
				return a.shutdownTracing(ctx)
			},
		})
	}

	if cfg.DatabaseEnabled() {
		a.startup.AddDependency(startup.Func{
			Name: depPostgres,
			OnStart: func(ctx context.Context) error {
				if err := a.connectDatabase(ctx); err != nil {
					return err
				}
				if cfg.DatabaseMigrateOnStart {
					return a.migrate()
				}
				return nil
			},
			OnStop: func(context.Context) error {
				if a.DB == nil {
					return nil
				}
				return a.DB.Close()
			},
		})
	}

	if cfg.CheckpointBackend == config.BackendRedis {
		a.startup.AddDependency(startup.Func{
			Name: depRedis,
			OnStart: func(ctx context.Context) error {
				if a.Redis == nil {
					a.Redis = redis.NewClient(&redis.Options{
						Addr:     cfg.RedisAddr(),
						Password: cfg.RedisPassword,
						DB:       cfg.RedisDB,
					})
				}
				return a.Redis.Ping(ctx).Err()
			},
			OnStop: func(context.Context) error {
				if a.Redis == nil {
					return nil
				}
				return a.Redis.Close()
			},
		})
	}

	if cfg.GraphURI != "" {
		a.startup.AddDependency(startup.Func{
			Name: depGraph,
			OnStart: func(ctx context.Context) error {
				if a.Graph == nil {
					client, err := graph.NewClient(graph.Config{
						URI:      cfg.GraphURI,
						Username: cfg.GraphUsername,
						Password: cfg.GraphPassword,
						Database: cfg.GraphDatabase,
					}, a.Logger)
					if err != nil {
						return err
					}
					a.Graph = client
				}
				return a.Graph.VerifyConnectivity(ctx)
			},
			OnStop: func(ctx context.Context) error {
				if a.Graph == nil {
					return nil
				}
				return a.Graph.Close(ctx)
			},
		})
	}

	if brokers := events.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		a.startup.AddDependency(startup.Func{
			Name: depKafka,
			OnStart: func(context.Context) error {
				a.Producer = events.NewProducer(events.Config{
					Brokers: brokers,
					Topic:   cfg.KafkaRunEventsTopic,
				}, a.Logger)
				return nil
			},
			OnStop: func(context.Context) error {
				if a.Producer == nil {
					return nil
				}
				return a.Producer.Close()
			},
		})
	}
}

func (a *App) startTracing(ctx context.Context) error {
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: a.Config.OTLPEndpoint,
		Protocol: a.Config.OTLPProtocol,
		Insecure: a.Config.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = tracing.NewProvider(a.Config.AppName, exporter)
	return nil
}

func (a *App) connectDatabase(ctx context.Context) error {
	if a.DB != nil {
		return a.DB.PingContext(ctx)
	}
	cfg := a.Config
	dsn := database.DSN(cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)
	db, err := database.Connect(ctx, dsn, database.PoolConfig{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.DB = db
	return nil
}

func (a *App) migrate() error {
	cfg := a.Config
	svc := database.NewMigrationService(a.Logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return svc.Migrate(a.DB, cfg.DatabaseName)
}

// Migrate connects to the database and applies migrations. It does not need
// the endpoint catalog.
func Migrate(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	if !cfg.DatabaseEnabled() {
		return fmt.Errorf("DB_HOST is not set")
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.connectDatabase(ctx); err != nil {
		return err
	}
	defer a.DB.Close()
	return a.migrate()
}

// Start brings up the infrastructure in dependency order and then builds the
// registry, checkpoint service and orchestrator on top of it.
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	return a.build()
}

func (a *App) build() error {
	store, err := a.checkpointStore()
	if err != nil {
		return err
	}
	a.Checkpoints = checkpoint.NewService(store, a.Logger)
	a.Registry = a.buildRegistry()

	opts := []orchestrator.Option{}
	if a.Producer != nil {
		opts = append(opts, orchestrator.WithPublisher(a.Producer))
	}
	if a.DB != nil {
		a.Runs = repositories.NewRunRepository(a.DB, a.Logger)
		opts = append(opts, orchestrator.WithRunRecorder(a.Runs))
	}
	a.Orchestrator = orchestrator.New(a.Registry, a.Resolver, a.Checkpoints, a.Logger, opts...)
	a.Health = a.buildHealth()
	return nil
}

func (a *App) checkpointStore() (checkpoint.Store, error) {
	switch a.Config.CheckpointBackend {
	case config.BackendPostgres:
		if a.DB == nil {
			return nil, fmt.Errorf("postgres checkpoint backend requires a database connection")
		}
		return checkpoint.NewPostgresStore(a.DB, a.Logger), nil
	case config.BackendRedis:
		if a.Redis == nil {
			return nil, fmt.Errorf("redis checkpoint backend requires a redis connection")
		}
		return checkpoint.NewRedisStore(a.Redis, a.Config.AppName, a.Logger), nil
	case config.BackendMemory:
		a.Logger.Warn("checkpoints are kept in memory and will not survive a restart")
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", a.Config.CheckpointBackend)
	}
}

func (a *App) buildRegistry() *registry.Registry {
	reg := registry.New()

	reg.RegisterDriver(jsonfile.DriverID, jsonfile.NewFactory(func(endpointID string) (map[string]any, error) {
		endpoint, err := a.Resolver.Endpoint(endpointID)
		if err != nil {
			return nil, err
		}
		return endpoint.Config, nil
	}, a.Logger))

	var catalog cdm.CatalogRegistrar
	if a.DB != nil {
		catalog = repositories.NewCatalogRepository(a.DB, a.Logger)
	}
	reg.RegisterSink(cdm.SinkID, cdm.NewFactory(cdm.DefaultCatalog(), a.CdmPool.Open, cdm.NewProvisioner(catalog, a.Logger), a.Logger))

	if a.Graph != nil {
		reg.RegisterSink(kb.SinkID, kb.NewFactory(a.Graph.Open, a.Logger))
	}

	a.Logger.WithFields(map[string]any{
		"drivers": reg.DriverIDs(),
		"sinks":   reg.SinkIDs(),
	}).Info("registry initialized")
	return reg
}

func (a *App) buildHealth() *health.Checker {
	checker := health.NewChecker(a.Config.AppVersion)
	if a.DB != nil {
		checker.AddCheck(depPostgres, health.DatabaseCheck(a.DB))
	}
	if a.Redis != nil {
		checker.AddCheck(depRedis, health.RedisCheck(a.Redis))
	}
	if a.Graph != nil {
		checker.AddCheck(depGraph, health.GraphCheck(a.Graph))
	}
	if brokers := events.ParseBrokers(a.Config.KafkaBrokers); len(brokers) > 0 {
		checker.AddOptionalCheck(depKafka, kafkaCheck(brokers[0]))
	}
	return checker
}

func kafkaCheck(broker string) health.CheckFunc {
	return func(ctx context.Context) error {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Stop waits for background runs and then releases the infrastructure in
// reverse start order.
func (a *App) Stop(ctx context.Context) error {
	if a.Health != nil {
		a.Health.SetReady(false)
	}
	if a.Orchestrator != nil {
		done := make(chan struct{})
		go func() {
			a.Orchestrator.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.Logger.WithContext(ctx).Warn("shutdown deadline reached with unit runs still in flight")
		}
	}
	if err := a.CdmPool.Close(); err != nil {
		a.Logger.WithContext(ctx).WithError(err).Warn("failed to close cdm pool")
	}
	return a.startup.Stop(ctx)
}
