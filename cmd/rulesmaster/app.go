package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rulesmaster/progress-sync/config"
	"github.com/rulesmaster/progress-sync/internal/application/eventhandler"
	"github.com/rulesmaster/progress-sync/internal/application/progress"
	"github.com/rulesmaster/progress-sync/internal/application/quizhistory"
	"github.com/rulesmaster/progress-sync/internal/application/saga"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/background"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/external/postgrest"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/messaging"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/local"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/memory"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/postgres"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/redis"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/remote"
	"github.com/rulesmaster/progress-sync/pkg/circuitbreaker"
	"github.com/rulesmaster/progress-sync/pkg/logger"
	"github.com/rulesmaster/progress-sync/pkg/retry"
	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// app holds every component built from the configuration.
type app struct {
	cfg *config.Config
	log *logger.Logger

	store  local.Store
	cache  *local.Snapshots
	remote *remote.Store
	pg     *postgres.Connection

	runner *background.Runner
	bus    shared.EventBus

	progress  *progress.Repository
	quizzes   *quizhistory.Repository
	migration *saga.MigrationSaga

	closers []func(context.Context) error
}

// newApp loads configuration and builds the components. The caller must
// call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: !cfg.IsDevelopment(),
	}).With(logger.String("app", cfg.App.Name), logger.String("env", string(cfg.App.Environment)))

	a := &app{cfg: cfg, log: log}
	if err := a.init(ctx); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	policy, err := a.cfg.DayPolicy()
	if err != nil {
		return err
	}

	if err := a.openCache(); err != nil {
		return err
	}
	a.cache = local.NewSnapshots(a.store)

	backend, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	a.remote = remote.New(backend,
		remote.WithTimeout(a.cfg.Remote.RequestTimeout),
		remote.WithRetry(
			retry.WithMaxAttempts(a.cfg.Remote.MaxRetries),
			retry.WithInitialDelay(a.cfg.Remote.RetryBaseDelay),
			retry.WithMaxDelay(a.cfg.Remote.RetryMaxDelay),
		),
		remote.WithBreaker(
			circuitbreaker.WithFailureThreshold(a.cfg.Remote.BreakerThreshold),
			circuitbreaker.WithTimeout(a.cfg.Remote.BreakerTimeout),
		),
		remote.WithLogger(a.log),
	)

	a.runner = background.New(background.Config{
		MaxConcurrent: int64(a.cfg.Sync.MaxConcurrent),
		TaskTimeout:   a.cfg.Sync.TaskTimeout,
		Logger:        a.log,
	})
	a.closers = append(a.closers, a.runner.Shutdown)

	if err := a.openBus(ctx); err != nil {
		return err
	}

	clock := timeutil.SystemClock{}
	a.progress = progress.New(a.remote, a.cache,
		progress.WithSpawner(a.runner),
		progress.WithPublisher(a.bus),
		progress.WithClock(clock),
		progress.WithDayPolicy(policy),
		progress.WithLogger(a.log),
	)
	a.quizzes = quizhistory.New(a.remote, a.cache,
		quizhistory.WithSpawner(a.runner),
		quizhistory.WithPublisher(a.bus),
		quizhistory.WithClock(clock),
		quizhistory.WithDefaultPassingScore(a.cfg.Quiz.DefaultPassingScore),
		quizhistory.WithLogger(a.log),
	)
	a.migration = saga.NewMigrationSaga(a.remote, a.cache, saga.MigrationSagaConfig{
		Publisher:       a.bus,
		Clock:           clock,
		Logger:          a.log,
		AnonymousUserID: a.cfg.App.AnonymousUserID,
	})

	return eventhandler.Handlers{
		UserAuthenticated: eventhandler.NewOnUserAuthenticatedHandler(a.migration, a.log),
		AppForegrounded:   eventhandler.NewOnAppForegroundedHandler(a.progress, a.quizzes, a.log),
		UserSignedOut:     eventhandler.NewOnUserSignedOutHandler(a.cfg.App.ShutdownTimeout, a.log, a.runner),
	}.Register(a.bus)
}

func (a *app) openCache() error {
	switch a.cfg.Cache.Backend {
	case config.CacheSQLite:
		s, err := local.OpenSQLite(a.cfg.Cache.SQLitePath)
		if err != nil {
			return err
		}
		a.log.Debug("sqlite cache opened", logger.String("path", s.Path()))
		a.store = s
	case config.CacheRedis:
		rc := redis.DefaultConfig()
		rc.Host = a.cfg.Cache.RedisHost
		rc.Port = a.cfg.Cache.RedisPort
		rc.Password = a.cfg.Cache.RedisPassword
		rc.DB = a.cfg.Cache.RedisDB
		rc.KeyPrefix = a.cfg.Cache.RedisKeyPrefix
		s, err := redis.NewStore(rc)
		if err != nil {
			return err
		}
		a.store = s
	default:
		a.store = local.NewMemoryStore()
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })
	return nil
}

func (a *app) openRemote(ctx context.Context) (remote.Backend, error) {
	switch a.cfg.Remote.Backend {
	case config.RemotePostgres:
		pc := postgres.DefaultConfig()
		pc.URL = a.cfg.Remote.DatabaseURL
		conn, err := postgres.NewConnection(ctx, pc)
		if err != nil {
			return nil, err
		}
		a.pg = conn
		a.closers = append(a.closers, func(context.Context) error { conn.Close(); return nil })
		return postgres.NewProgressStore(conn), nil
	case config.RemotePostgREST:
		pc := postgrest.DefaultConfig(a.cfg.Remote.BaseURL, a.cfg.Remote.APIKey)
		pc.AccessToken = a.cfg.Remote.AccessToken
		pc.Timeout = a.cfg.Remote.RequestTimeout
		pc.Logger = a.log
		return postgrest.NewClient(pc), nil
	default:
		a.log.Warn("using the in-memory remote store, nothing is persisted remotely")
		return memory.NewRemoteStore(), nil
	}
}

// openBus shares events between processes when the cache lives in Redis;
// otherwise handlers run in-process and synchronously.
func (a *app) openBus(ctx context.Context) error {
	busCfg := messaging.InMemoryEventBusConfig{Logger: a.log}
	if rs, ok := a.store.(*redis.Store); ok {
		bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:         rs.Client(),
			LocalBusConfig: busCfg,
			Logger:         a.log,
		})
		if err != nil {
			return err
		}
		a.bus = bus
		a.closers = append(a.closers, func(context.Context) error { return bus.Close() })
		return nil
	}
	bus := messaging.NewInMemoryEventBus(busCfg)
	a.bus = bus
	a.closers = append(a.closers, func(context.Context) error { return bus.Close() })
	return nil
}

// close drains background work and releases resources in reverse order.
func (a *app) close(ctx context.Context) error {
	if a.cfg != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.App.ShutdownTimeout)
		defer cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

// ─────────────────────────────────────────────────────────────────────────────
// command helpers
// ─────────────────────────────────────────────────────────────────────────────

// withApp builds the app, runs fn and closes the app, joining both errors.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.close(context.WithoutCancel(cmd.Context())))
		}()
		return fn(cmd, a, args)
	}
}

func (a *app) userID() (string, error) {
	id := userFlag
	if id == "" {
		id = a.cfg.App.UserID
	}
	if id == "" {
		return "", errors.New("no user: pass --user or set APP_USER_ID")
	}
	return id, nil
}

func requireGame() (string, error) {
	if gameFlag == "" {
		return "", errors.New("no game: pass --game")
	}
	return gameFlag, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
