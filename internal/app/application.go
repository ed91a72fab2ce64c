// Package app wires the play session runtime together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"playsession/internal/api"
	"playsession/internal/auth"
	"playsession/internal/broadcast"
	"playsession/internal/config"
	"playsession/internal/database"
	"playsession/internal/hub"
	xlog "playsession/internal/log"
	"playsession/internal/session"
	"playsession/internal/store/postgres"
	"playsession/internal/websocket"
	dbconfig "playsession/pkg/database"
	"playsession/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	store      interfaces.DatabaseManager
	registry   *websocket.Registry
	hub        *hub.Hub
	publisher  *broadcast.Publisher
	controller *session.Controller
	resolver   *auth.Resolver
	redis      *redis.Client
	bridge     *broadcast.RedisBridge
	apiServer  *api.Server
	httpServer *http.Server
	logger     zerolog.Logger

	mu       sync.Mutex
	addr     string
	ready    chan struct{}
	stopOnce sync.Once
}

// OpenStore opens the configured session store and brings its schema up to date.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (interfaces.DatabaseManager, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg := postgres.DefaultConfig()
		pg.DSN = cfg.DSN
		store, err := postgres.Open(ctx, pg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		db := dbconfig.DefaultConfig()
		db.DatabasePath = cfg.Path
		db.WriteTimeout = cfg.Timeout
		manager, err := database.NewManager(db)
		if err != nil {
			return nil, err
		}
		return manager, nil
	}
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Broadcast → Session → Auth → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := xlog.WithComponent("app")

	// STEP 1: Open the session store (foundation layer)
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}

	// STEP 2: Broadcast fan-out. With Redis every instance publishes to the
	// session channel and delivers locally from its bridge; without it the
	// hub delivers straight to this process's subscribers.
	registry := websocket.NewRegistry()
	local := broadcast.NewRegistrySink(registry)
	hubCfg := hub.Config{
		QueueSize:      cfg.Broadcast.QueueSize,
		DeliverTimeout: cfg.Broadcast.DeliverTimeout,
	}

	var (
		redisClient *redis.Client
		bridge      *broadcast.RedisBridge
		sinks       []interfaces.BroadcastSink
	)
	if cfg.Broadcast.RedisAddr != "" {
		redisClient, err = broadcast.NewRedisClient(ctx, broadcast.RedisConfig{
			Addr:     cfg.Broadcast.RedisAddr,
			Password: cfg.Broadcast.RedisPassword,
			DB:       cfg.Broadcast.RedisDB,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		hubCfg.Sequencer = broadcast.NewRedisSequencer(redisClient, cfg.Broadcast.SeqTTL)
		sinks = append(sinks, broadcast.NewRedisSink(redisClient))
		bridge = broadcast.NewRedisBridge(redisClient, local)
		logger.Info().Str("redis_addr", cfg.Broadcast.RedisAddr).Msg("broadcasting through redis")
	} else {
		hubCfg.Sequencer = broadcast.NewLocalSequencer(cfg.Broadcast.SeqTTL)
		sinks = append(sinks, local)
	}
	messageHub := hub.NewHub(hubCfg, sinks...)
	publisher := broadcast.NewPublisher(messageHub, hubCfg.Sequencer)

	// STEP 3: Session aggregate and viewer resolution
	controller := session.NewController(store, publisher,
		session.WithParticipantTokenTTL(cfg.Auth.ParticipantTokenTTL),
		session.WithKeypadAttempts(cfg.HTTP.KeypadAttempts, cfg.HTTP.KeypadWindow),
		session.WithGameCacheTTL(cfg.Database.GameCacheTTL))
	resolver, err := auth.NewResolver(auth.Config{
		JWTSecret:           cfg.Auth.JWTSecret,
		Issuer:              cfg.Auth.Issuer,
		HostTokenTTL:        cfg.Auth.HostTokenTTL,
		ParticipantTokenTTL: cfg.Auth.ParticipantTokenTTL,
	}, store)
	if err != nil {
		closeQuietly(store, redisClient)
		return nil, err
	}

	// STEP 4: HTTP surface, websocket subscriptions included
	apiServer := api.NewServer(controller, resolver, publisher, store, registry, api.Config{
		RateLimit:       cfg.HTTP.RateLimit,
		RateLimitWindow: time.Minute,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		WebSocket: websocket.HandlerConfig{
			PingInterval:   cfg.WebSocket.PingInterval,
			ReadTimeout:    cfg.WebSocket.ReadTimeout,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			BufferSize:     cfg.WebSocket.BufferSize,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		},
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		registry:   registry,
		hub:        messageHub,
		publisher:  publisher,
		controller: controller,
		resolver:   resolver,
		redis:      redisClient,
		bridge:     bridge,
		apiServer:  apiServer,
		httpServer: httpServer,
		logger:     logger,
		ready:      make(chan struct{}),
	}, nil
}

// Run starts the hub, the Redis bridge and the HTTP server, and blocks until
// ctx is cancelled or one of them fails. Everything is shut down on return.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// STEP 1: Start the dispatcher before anything can publish
	if err := app.hub.Start(ctx); err != nil {
		app.Stop(context.Background())
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// STEP 2: Subscribe to the cluster channel so no delta is missed
	if app.bridge != nil {
		subscribed := make(chan struct{})
		g.Go(func() error { return app.bridge.Run(gctx, subscribed) })
		select {
		case <-subscribed:
		case <-gctx.Done():
		}
	}

	// STEP 3: Accept connections
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		_ = g.Wait()
		app.Stop(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.addr = ln.Addr().String()
	app.mu.Unlock()
	close(app.ready)
	app.logger.Info().Str("addr", ln.Addr().String()).Msg("play session runtime listening")

	g.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, release := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		defer release()
		app.Stop(shutdownCtx)
		return nil
	})

	return g.Wait()
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → subscribers → Hub → Redis → Store
func (app *Application) Stop(ctx context.Context) {
	app.stopOnce.Do(func() {
		app.logger.Info().Msg("shutting down play session runtime")

		// STEP 1: Stop accepting new requests and subscriptions
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.Warn().Err(err).Msg("HTTP server shutdown error")
		}

		// STEP 2: Disconnect subscribers
		app.registry.CloseAll()

		// STEP 3: Drain queued broadcasts
		if app.hub.IsRunning() {
			if err := app.hub.Stop(); err != nil {
				app.logger.Warn().Err(err).Msg("broadcast hub shutdown error")
			}
		}

		// STEP 4: Release external connections
		closeQuietly(app.store, app.redis)
		app.logger.Info().Msg("play session runtime stopped")
	})
}

// Ready is closed once the HTTP listener is bound.
func (app *Application) Ready() <-chan struct{} {
	return app.ready
}

// Addr returns the bound listen address, or the configured one before Run.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.addr != "" {
		return app.addr
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP surface.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Controller exposes the session aggregate.
func (app *Application) Controller() *session.Controller {
	return app.controller
}

// Resolver exposes the viewer resolver.
func (app *Application) Resolver() *auth.Resolver {
	return app.resolver
}

func closeQuietly(store interfaces.DatabaseManager, client *redis.Client) {
	logger := xlog.WithComponent("app")
	if client != nil {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("redis close error")
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close error")
		}
	}
}
