package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kursadbilgin/grant-engine/internal/candidate"
	"github.com/kursadbilgin/grant-engine/internal/clock"
	"github.com/kursadbilgin/grant-engine/internal/config"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/grant-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/grant-engine/internal/infra/redis"
	"github.com/kursadbilgin/grant-engine/internal/notify"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	"github.com/kursadbilgin/grant-engine/internal/queue"
	"github.com/kursadbilgin/grant-engine/internal/quota"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"github.com/kursadbilgin/grant-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds the process-wide components shared by the api and sweeper
// binaries.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	DB     *gorm.DB
	SQLDB  *sql.DB
	Redis  *redis.Client
	Broker *queue.RabbitMQ

	Dispatcher *notify.Dispatcher
	Grants     *service.GrantService
	Sweeper    *service.Sweeper
	Admin      *service.AdminService
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			_ = a.closeConnections()
		}
	}()

	a.DB, err = postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.Options{
		MaxOpenConns: cfg.DBMaxOpenConns,
		SlowQuery:    cfg.DBSlowQuery,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	a.SQLDB, err = a.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	if err = migrations.Migrate(a.DB); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	a.Redis, err = infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}

	c := clock.Real()
	candidates := repository.NewGormCandidateSource(a.DB)
	registry, err := NewRegistry(candidates)
	if err != nil {
		return nil, err
	}

	ledger, err := newLedger(cfg, a.DB, a.Redis, c)
	if err != nil {
		return nil, err
	}
	locker, err := infraredis.NewRedisLocker(a.Redis)
	if err != nil {
		return nil, fmt.Errorf("subject locker init failed: %w", err)
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return nil, err
	}
	a.Dispatcher, err = notify.NewDispatcher(notifier, logger, a.Metrics, notify.DispatcherConfig{
		Timeout: cfg.NotifyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("notification dispatcher init failed: %w", err)
	}

	grants := repository.NewGormGrantRepo(a.DB)
	a.Grants, err = service.NewGrantService(service.GrantServiceDeps{
		Grants:     grants,
		Subjects:   repository.NewGormSubjectRepo(a.DB),
		Queues:     registry,
		Ledger:     ledger,
		Locker:     locker,
		Dispatcher: a.Dispatcher,
		Clock:      c,
		Metrics:    a.Metrics,
		Logger:     logger,
	}, service.GrantServiceConfig{
		LockTTL:          cfg.SubjectLockTTL,
		OperationTimeout: cfg.OperationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("grant service init failed: %w", err)
	}

	a.Sweeper, err = service.NewSweeper(grants, a.Grants, c, service.SweeperConfig{
		Interval:    cfg.SweepInterval,
		BatchSize:   cfg.SweepBatchLimit,
		Concurrency: cfg.SweepConcurrency,
	}, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("sweeper init failed: %w", err)
	}

	a.Admin, err = service.NewAdminService(ledger, candidates, logger)
	if err != nil {
		return nil, fmt.Errorf("admin service init failed: %w", err)
	}

	return a, nil
}

// CandidateSource serves both the ranked pool and the designated grantee.
type CandidateSource interface {
	candidate.Source
	candidate.DesignatedSource
}

// NewRegistry registers the candidate policy of every subject type.
func NewRegistry(source CandidateSource) (*candidate.Registry, error) {
	substitution, err := candidate.NewSubstitutionQueue(source, 1)
	if err != nil {
		return nil, fmt.Errorf("substitution queue init failed: %w", err)
	}
	discount, err := candidate.NewDiscountTokenQueue(source)
	if err != nil {
		return nil, fmt.Errorf("discount token queue init failed: %w", err)
	}

	registry := candidate.NewRegistry()
	registry.Register(domain.SubjectTypeSubstitution, substitution)
	registry.Register(domain.SubjectTypeDiscountToken, discount)
	return registry, nil
}

func newLedger(cfg *config.Config, db *gorm.DB, rdb *redis.Client, c clock.Clock) (quota.Ledger, error) {
	switch cfg.QuotaBackend {
	case config.QuotaBackendPostgres:
		return repository.NewGormQuotaLedger(db, c.Now), nil
	default:
		ledger, err := infraredis.NewRedisQuotaLedger(rdb, cfg.ReservationTTL)
		if err != nil {
			return nil, fmt.Errorf("redis quota ledger init failed: %w", err)
		}
		return ledger, nil
	}
}

// newNotifier always logs and additionally publishes to RabbitMQ or calls the
// webhook gateway when configured. The broker takes precedence: delivery
// workers own the gateway call in that setup.
func (a *App) newNotifier() (notify.Notifier, error) {
	fanout := notify.Fanout{notify.NewLogNotifier(a.Logger)}

	switch {
	case a.Config.RabbitMQURL != "":
		broker, err := queue.NewRabbitMQ(a.Config.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		a.Broker = broker
		fanout = append(fanout, queue.NewRabbitMQPublisher(broker))
	case a.Config.NotifyWebhookURL != "":
		webhook, err := notify.NewWebhookNotifier(a.Config.NotifyWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("webhook notifier init failed: %w", err)
		}
		fanout = append(fanout, webhook)
	}

	return fanout, nil
}

// Close waits for in-flight notifications and then releases connections.
func (a *App) Close() error {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	return a.closeConnections()
}

func (a *App) closeConnections() error {
	var errs []error
	if a.Broker != nil {
		errs = append(errs, a.Broker.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.SQLDB != nil {
		errs = append(errs, a.SQLDB.Close())
	}
	return errors.Join(errs...)
}
