// Package app is the composition root: it builds the artifact store, the
// backend client, the alert sink, the aggregator and the pipeline from config.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/alert"
	"github.com/JakeFAU/eld-roster-crawler/internal/api"
	"github.com/JakeFAU/eld-roster-crawler/internal/backend"
	"github.com/JakeFAU/eld-roster-crawler/internal/clock/system"
	"github.com/JakeFAU/eld-roster-crawler/internal/config"
	"github.com/JakeFAU/eld-roster-crawler/internal/id/uuid"
	"github.com/JakeFAU/eld-roster-crawler/internal/metrics"
	"github.com/JakeFAU/eld-roster-crawler/internal/pipeline"
	pubsubpub "github.com/JakeFAU/eld-roster-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage/gcs"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage/local"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage/memory"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage/postgres"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage/redis"
)

// readinessKey is probed on the store; ErrNotFound still counts as reachable.
const readinessKey = "readyz.probe"

// App holds the long-lived services of one process.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      storage.Provider
	Alerts     *alert.Sink
	Backend    *backend.Client
	Aggregator *roster.Aggregator
	Pipeline   *pipeline.Pipeline

	closers []func() error
}

type options struct {
	offline bool
	store   storage.Provider
	pub     alert.Publisher
	backend []backend.Option
}

// Option customises New.
type Option func(*options)

// Offline skips the backend client; only store-backed operations work.
func Offline() Option {
	return func(o *options) { o.offline = true }
}

// WithStore bypasses cfg.Storage with an existing provider.
func WithStore(store storage.Provider) Option {
	return func(o *options) { o.store = store }
}

// WithAlertPublisher bypasses cfg.PubSub with an existing publisher.
func WithAlertPublisher(pub alert.Publisher) Option {
	return func(o *options) { o.pub = pub }
}

// WithBackendOptions forwards options to backend.New.
func WithBackendOptions(opts ...backend.Option) Option {
	return func(o *options) { o.backend = append(o.backend, opts...) }
}

// New wires every service. Unless Offline is given, missing operator
// credentials fail with config.ErrCredentialMissing.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}

	if !o.offline {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, err
		}
	}

	store := o.store
	if store == nil {
		var closer func() error
		var err error
		store, closer, err = NewStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.addCloser(closer)
	}
	a.Store = store

	pub := o.pub
	if pub == nil && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		p := pubsubpub.New(client)
		a.addCloser(client.Close)
		a.addCloser(func() error { p.Close(); return nil })
		pub = p
	}

	var sinkOpts []alert.Option
	if pub != nil {
		sinkOpts = append(sinkOpts, alert.WithPublisher(pub))
	}
	a.Alerts = alert.NewSink(store, uuid.New(), system.New(), alert.Config{
		Key:   cfg.Crawl.AlertsKey,
		Topic: cfg.PubSub.TopicName,
	}, logger.Named("alert"), sinkOpts...)

	var operator pipeline.Operator
	var aggregator pipeline.Aggregator
	if !o.offline {
		backendOpts := append([]backend.Option{
			backend.WithAlerter(a.Alerts),
			backend.WithLogger(logger.Named("backend")),
		}, o.backend...)
		client, err := backend.New(cfg.Backend.ClientConfig(), backendOpts...)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create backend client: %w", err)
		}
		a.Backend = client
		a.Aggregator = roster.NewAggregator(client, client, store, roster.Config{
			EldPlatform:  cfg.Crawl.EldPlatform,
			Pace:         cfg.Crawl.Pace,
			CompaniesKey: cfg.Crawl.CompaniesKey,
			OutputKey:    cfg.Crawl.OutputKey,
		}, logger.Named("roster"))
		operator = client
		aggregator = a.Aggregator
	}

	a.Pipeline = pipeline.New(operator, aggregator, store, pipeline.Config{
		ExcludePrefix:   cfg.Crawl.ExcludePrefix,
		CompaniesKey:    cfg.Crawl.CompaniesKey,
		OutputKey:       cfg.Crawl.OutputKey,
		ActiveOutputKey: cfg.Crawl.ActiveOutputKey,
	}, logger.Named("pipeline"))

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("offline", o.offline),
		zap.Bool("alert_fanout", pub != nil),
	)
	return a, nil
}

// NewServer builds the HTTP server on top of the pipeline and alert log.
func (a *App) NewServer() *api.Server {
	return api.NewServer(a.Pipeline, a.Alerts, a.Config, a.Logger.Named("api"),
		api.WithReadinessCheck(a.Ready))
}

// Ready probes the artifact store.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.Store.Get(ctx, readinessKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("artifact store not ready: %w", err)
	}
	return nil
}

// Close releases resources in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// NewStore builds the configured artifact store and its close func (may be nil).
func NewStore(ctx context.Context, cfg config.StorageConfig) (storage.Provider, func() error, error) {
	switch cfg.Backend {
	case config.StorageLocal, "":
		store, err := local.New(local.Config{BaseDir: cfg.Local.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("create local store: %w", err)
		}
		return store, nil, nil
	case config.StorageMemory:
		return memory.NewStore(), nil, nil
	case config.StorageGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("create gcs store: %w", err)
		}
		return store, client.Close, nil
	case config.StoragePostgres:
		store, err := postgres.NewArtifactStore(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres store: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil
	case config.StorageRedis:
		store, err := redis.New(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create redis store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
