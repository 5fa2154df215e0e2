package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lagz0ne/claude-web/api/handlers"
	"github.com/lagz0ne/claude-web/internal/agent"
	"github.com/lagz0ne/claude-web/internal/config"
	"github.com/lagz0ne/claude-web/internal/db"
	"github.com/lagz0ne/claude-web/internal/metrics"
	"github.com/lagz0ne/claude-web/internal/persistence"
	"github.com/lagz0ne/claude-web/internal/protocol"
	"github.com/lagz0ne/claude-web/internal/repository"
	"github.com/lagz0ne/claude-web/internal/session"
	"github.com/lagz0ne/claude-web/internal/transcript"
	"github.com/lagz0ne/claude-web/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, opts *options) error {
	cfgManager, err := config.NewManager(opts.configPath)
	if err != nil {
		return err
	}
	cfg := cfgManager.Current()

	host, port, binary := cfg.Host, cfg.Port, cfg.AgentBinary
	if opts.host != "" {
		host = opts.host
	}
	if opts.port != 0 {
		port = opts.port
	}
	if opts.agentBinary != "" {
		binary = opts.agentBinary
	}

	if err := os.MkdirAll(opts.dataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	database, err := db.InitDB(config.DBPath(opts.dataDir))
	if err != nil {
		return err
	}
	defer db.CloseDB()

	transcripts, err := transcript.NewLog(config.MessagesDir(opts.dataDir))
	if err != nil {
		return err
	}
	store := persistence.NewStore(repository.NewSessionRepository(database), transcripts)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hub := ws.NewHub(m)
	router := protocol.NewRouter(hub)
	engine := session.NewEngine(session.Config{
		Factory:  agent.NewCLIFactory(binary),
		Store:    store,
		Notifier: router,
		Policy:   cfgManager,
		Metrics:  m,
	})
	router.SetEngine(engine)

	// No client may observe a session left active by a previous process.
	if _, err := engine.Reconcile(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           newHTTPRouter(opts, cfgManager, engine, hub, router, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", "http://"+srv.Addr).
			Str("config", cfgManager.Path()).
			Str("data", opts.dataDir).
			Str("static", opts.staticDir).
			Int("presets", len(cfg.Presets)).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := cfgManager.Watch(gctx); err != nil {
			log.Warn().Err(err).Msg("Config changes on disk will not be picked up")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var result error
		if err := engine.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("sessions: %w", err))
		}
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http: %w", err))
		}
		return result
	})

	return g.Wait()
}

func newHTTPRouter(
	opts *options,
	cfgManager *config.Manager,
	engine *session.Engine,
	hub *ws.Hub,
	router *protocol.Router,
	reg *prometheus.Registry,
) *gin.Engine {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", handlers.Health(engine.Registry()))
	r.GET("/metrics", handlers.Metrics(reg))

	api := r.Group("/api")
	{
		handlers.NewSessionHandler(engine).RegisterRoutes(api)
		handlers.NewConfigHandler(cfgManager).RegisterRoutes(api)
	}

	handlers.NewWebSocketHandler(ws.NewHandler(hub, router)).RegisterRoutes(r)

	if opts.staticDir != "" {
		handlers.RegisterStatic(r, opts.staticDir)
	}
	return r
}
