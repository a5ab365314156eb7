// Package firequiz assembles the client runtime: configuration, the remote
// data store client, the query cache, the session service, error telemetry
// and the connectivity watcher.
package firequiz

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pompierapp/firequiz/apperr"
	"github.com/pompierapp/firequiz/config"
	"github.com/pompierapp/firequiz/internal/netwatch"
	"github.com/pompierapp/firequiz/log"
	"github.com/pompierapp/firequiz/querycache"
	"github.com/pompierapp/firequiz/session"
	"github.com/pompierapp/firequiz/store"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	Config   *config.Config
	Store    *store.Client
	Cache    *querycache.Cache
	Sessions *session.Service
	Quizzes  *session.Catalog
	Journal  *apperr.Journal
	Watcher  *netwatch.Watcher

	redisClient redis.UniversalClient
}

// Options tune the assembly.
type Options struct {
	// ConfigFile is the optional tuning file. Missing file means defaults.
	ConfigFile string

	// Sink receives errors above the telemetry severity threshold. Nil
	// falls back to the process log.
	Sink apperr.Sink
}

// New wires the application from the environment and the tuning file. The
// connectivity watcher is started; callers must Close.
func New(opts Options) (*App, error) {
	api, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("cannot read backend credentials: %w", err)
	}

	cfg, err := config.LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load config %q: %w", opts.ConfigFile, err)
	}
	log.SetDebug(cfg.LogDebug)

	app := &App{Config: cfg}

	storeOptions := []store.Option{}
	if len(cfg.Redis.Addresses) > 0 {
		app.redisClient, err = store.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("cannot connect to redis: %w", err)
		}
		storeOptions = append(storeOptions, store.WithTokenStore(store.NewRedisTokenStore(app.redisClient)))
	}

	app.Store, err = store.NewClient(api, storeOptions...)
	if err != nil {
		app.closePartial()
		return nil, fmt.Errorf("cannot build store client: %w", err)
	}

	minSeverity, err := apperr.ParseSeverity(cfg.Telemetry.MinSeverity)
	if err != nil {
		app.closePartial()
		return nil, err
	}
	app.Journal = apperr.NewJournal(opts.Sink, minSeverity)

	app.Cache = querycache.New(querycache.FromConfig(cfg.Cache))
	app.Sessions = session.NewService(
		session.NewRemoteStore(app.Store),
		app.Cache,
		session.WithConfig(cfg.Session),
		session.WithJournal(app.Journal),
	)

	app.Quizzes = session.NewCatalog(app.Store, app.Cache)

	app.Watcher = netwatch.New(cfg.Heartbeat, netwatch.ProberFunc(app.Store.Health))
	app.Watcher.OnChange(connectivityListener(app.Cache))
	app.Watcher.Start()

	log.Infof("application wired: cache stale_time=%s, heartbeat interval=%s",
		cfg.Cache.StaleTime, cfg.Heartbeat.Interval)
	return app, nil
}

// connectivityListener hands transitions to the cache. The reconnect sweep
// refetches over the network, so it must not run on the probing goroutine.
func connectivityListener(c *querycache.Cache) func(online bool) {
	return func(online bool) {
		go c.SetOnline(online)
	}
}

// SignOut clears the persisted auth token and drops every cached session
// read, so nothing belonging to the previous user survives.
func (a *App) SignOut(ctx context.Context) error {
	if err := a.Store.Tokens().Clear(ctx); err != nil {
		return fmt.Errorf("cannot clear session token: %w", err)
	}
	a.Cache.Invalidate(session.UserSessionsPrefix())
	return nil
}

// Close stops the watcher and releases every owned resource.
func (a *App) Close() error {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			log.Errorf("cache shutdown: %s", err)
		}
	}
	return a.closePartial()
}

func (a *App) closePartial() error {
	if a.redisClient != nil {
		return a.redisClient.Close()
	}
	return nil
}
