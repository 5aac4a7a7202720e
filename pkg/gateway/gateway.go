package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/beam-cloud/synopsis/pkg/api/v1"
	"github.com/beam-cloud/synopsis/pkg/auth"
	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/crypto"
	"github.com/beam-cloud/synopsis/pkg/dedup"
	"github.com/beam-cloud/synopsis/pkg/llm"
	"github.com/beam-cloud/synopsis/pkg/mailbox"
	"github.com/beam-cloud/synopsis/pkg/persist"
	"github.com/beam-cloud/synopsis/pkg/pipeline"
	"github.com/beam-cloud/synopsis/pkg/queue"
	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/scheduler"
	"github.com/beam-cloud/synopsis/pkg/synopsis"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const queueName = "default"

// Gateway owns every long lived component: stores, the background queue and
// the HTTP server
type Gateway struct {
	Config      types.AppConfig
	RedisClient *common.RedisClient
	Store       repository.SynopsisRepository
	TokenRepo   repository.MailboxTokenRepository

	clock    common.Clock
	cipher   *crypto.FieldCipher
	queue    *queue.Queue
	pipeline *pipeline.Pipeline
	reader   *persist.Reader
	identity *auth.Identity
	sessions *auth.SessionManager
	tokens   *auth.TokenStore
	checks   map[string]apiv1.Pinger
	closers  []io.Closer

	httpServer *http.Server
	echo       *echo.Echo
	ctx        context.Context
	cancelFunc context.CancelFunc

	baseRouteGroup *echo.Group
}

// NewGateway loads configuration and builds the gateway
func NewGateway() (*Gateway, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return nil, err
	}
	config := configManager.GetConfig()

	// Setup logging
	if config.PrettyLogs {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	return New(config)
}

// New builds every component from config. Nothing runs until Start.
func New(config types.AppConfig) (*Gateway, error) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		Config:     config,
		clock:      common.NewRealClock(),
		checks:     map[string]apiv1.Pinger{},
		ctx:        ctx,
		cancelFunc: cancel,
	}

	if err := g.initStores(); err != nil {
		g.closeStores()
		cancel()
		return nil, err
	}

	if err := g.initPipeline(); err != nil {
		g.closeStores()
		cancel()
		return nil, err
	}

	return g, nil
}

func (g *Gateway) initStores() error {
	cfg := g.Config.Database

	// Local mode: skip Redis
	if g.Config.IsLocalMode() {
		log.Info().Msg("running in local mode - redis disabled")
	} else {
		redisClient, err := common.NewRedisClient(cfg.Redis, common.WithClientName("SynopsisGateway"))
		if err != nil {
			return err
		}
		g.RedisClient = redisClient
		g.closers = append(g.closers, redisClient)
		g.checks["redis"] = apiv1.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var postgres *repository.PostgresBackend

	switch cfg.Backend {
	case types.StoreBackendMemory, "":
		g.Store = repository.NewSynopsisMemoryRepository()

	case types.StoreBackendRedis:
		if g.RedisClient == nil {
			return errors.New("redis store backend requires remote mode")
		}
		g.Store = repository.NewSynopsisRedisRepository(g.RedisClient)

	case types.StoreBackendPostgres:
		backend, err := repository.NewPostgresBackend(g.ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		g.closers = append(g.closers, backend)
		if err := backend.RunMigrations(); err != nil {
			return err
		}
		postgres = backend
		g.Store = backend
		g.checks["postgres"] = backend

	case types.StoreBackendSQLite:
		backend, err := repository.NewSynopsisSQLiteRepository(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		g.closers = append(g.closers, backend)
		g.Store = backend

	default:
		return fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}

	if cfg.ExistsCache > 0 {
		cached, err := repository.NewCachedSynopsisRepository(g.Store, cfg.ExistsCache)
		if err != nil {
			return err
		}
		g.Store = cached
	}

	switch {
	case postgres != nil:
		g.TokenRepo = postgres
	case g.RedisClient != nil:
		g.TokenRepo = repository.NewMailboxTokenRedisRepository(g.RedisClient)
	default:
		g.TokenRepo = repository.NewMailboxTokenMemoryRepository()
	}

	log.Info().
		Str("backend", string(cfg.Backend)).
		Int("exists_cache", cfg.ExistsCache).
		Msg("synopsis store ready")

	return nil
}

func (g *Gateway) initCipher() (*crypto.FieldCipher, error) {
	secret := g.Config.Encryption.Secret
	if secret == "" {
		if !g.Config.IsLocalMode() {
			return nil, errors.New("encryption.secret is required in remote mode")
		}
		b := make([]byte, 32)
		rand.Read(b)
		secret = hex.EncodeToString(b)
		log.Warn().Msg("no encryption secret configured, stored synopses will be unreadable after restart")
	}
	return crypto.NewFieldCipher(secret, g.Config.Encryption.Salt)
}

func (g *Gateway) initPipeline() error {
	cipher, err := g.initCipher()
	if err != nil {
		return err
	}
	g.cipher = cipher

	mailboxClient := mailbox.NewClient(g.Config.Mailbox, g.clock)
	fetcher := mailbox.NewFetcher(mailboxClient, g.Config.Mailbox, g.clock)

	if g.Config.LLM.APIKey == "" {
		log.Warn().Msg("no llm api key configured, synopsis generation will fail")
	}
	generator := synopsis.NewGenerator(
		llm.NewClient(g.Config.LLM),
		persist.NewWriter(g.Store, cipher, g.clock),
		g.Config.Synopsis,
		g.clock,
	)

	sched := scheduler.New(generator, g.Config.Scheduler, g.clock)
	filter := dedup.New(g.Store)

	var queueOpts []queue.Option
	if g.Config.Database.QueueJournal && g.RedisClient != nil {
		queueOpts = append(queueOpts, queue.WithJournal(repository.NewRedisQueueJournal(g.RedisClient, queueName)))
	}
	g.queue = queue.New(g.Config.Queue, sched, filter, g.clock, queueOpts...)

	pipelineOpts := []pipeline.Option{pipeline.WithDefaultPageSize(g.Config.Mailbox.DefaultPageSize)}
	if g.RedisClient != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithLocker(common.NewRedisLock(g.RedisClient), g.Config.Auth.IngestLockTTL))
	}
	g.pipeline = pipeline.New(mailboxClient, fetcher, filter, sched, g.queue, g.clock, pipelineOpts...)

	g.reader = persist.NewReader(g.Store, cipher)
	g.sessions = auth.NewSessionManager(g.Config.Auth, g.clock)
	g.tokens = auth.NewTokenStore(g.TokenRepo, cipher, g.Config.Auth, g.clock)
	g.identity = auth.NewIdentity(g.sessions, g.tokens)

	return nil
}

func (g *Gateway) initHTTP() error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())

	// Configure logging middleware
	if g.Config.Gateway.HTTP.EnablePrettyLogs {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human}\n",
		}))
	}
	e.Use(apiv1.RequestLogger())

	// CORS
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: g.Config.Gateway.HTTP.CORS.AllowedOrigins,
		AllowHeaders: g.Config.Gateway.HTTP.CORS.AllowedHeaders,
		AllowMethods: g.Config.Gateway.HTTP.CORS.AllowedMethods,
	}))

	e.Use(middleware.Recover())

	g.echo = e
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.Config.Gateway.HTTP.Host, g.Config.Gateway.HTTP.Port),
		Handler: e,
	}

	g.baseRouteGroup = e.Group(apiv1.HttpServerBaseRoute)

	apiv1.NewHealthGroup(g.baseRouteGroup.Group("/health"), g.checks)

	identity := auth.HTTPMiddleware(g.identity)
	apiv1.NewIngestGroup(g.baseRouteGroup.Group("", identity), g.pipeline)
	apiv1.NewSynopsesGroup(g.baseRouteGroup.Group("/synopses", identity), g.reader)

	if g.tokens.IsConfigured() {
		states := auth.NewStateStore(auth.DefaultStateTTL, g.clock)
		apiv1.NewMailboxGroup(g.baseRouteGroup.Group("/mailbox"), g.tokens, states, auth.SessionMiddleware(g.sessions))
		log.Info().Msg("mailbox oauth API registered at /api/v1/mailbox")
	}

	return nil
}

// Pipeline returns the ingestion pipeline
func (g *Gateway) Pipeline() *pipeline.Pipeline {
	return g.pipeline
}

// Queue returns the background queue
func (g *Gateway) Queue() *queue.Queue {
	return g.queue
}

// Reader returns the decrypting synopsis reader
func (g *Gateway) Reader() *persist.Reader {
	return g.reader
}

// Sessions returns the session manager
func (g *Gateway) Sessions() *auth.SessionManager {
	return g.sessions
}

// Tokens returns the mailbox token store
func (g *Gateway) Tokens() *auth.TokenStore {
	return g.tokens
}

// StartAsync starts the queue and the HTTP server without blocking
func (g *Gateway) StartAsync() error {
	if err := g.initHTTP(); err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	if err := g.queue.Start(g.ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}

	lis, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on http: %w", err)
	}

	go func() {
		if err := g.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	log.Info().
		Str("host", g.Config.Gateway.HTTP.Host).
		Int("port", g.Config.Gateway.HTTP.Port).
		Msg("gateway http server running")

	return nil
}

func (g *Gateway) Start() error {
	if err := g.StartAsync(); err != nil {
		return err
	}

	terminationSignal := make(chan os.Signal, 1)
	signal.Notify(terminationSignal, os.Interrupt, syscall.SIGTERM)
	<-terminationSignal

	log.Info().Msg("termination signal received. shutting down...")
	g.Shutdown()

	return nil
}

// Shutdown stops the HTTP server and the queue, then closes the stores
func (g *Gateway) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), g.Config.Gateway.ShutdownTimeout)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	if g.httpServer != nil {
		eg.Go(func() error {
			return g.httpServer.Shutdown(ctx)
		})
	}

	// Let an in-flight drain finish before the stores close
	eg.Go(func() error {
		return g.queue.Shutdown(ctx)
	})

	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("failed to shutdown gateway gracefully")
	}

	g.cancelFunc()
	g.closeStores()

	log.Info().Msg("gateway stopped")
}

func (g *Gateway) closeStores() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}
	g.closers = nil
}
