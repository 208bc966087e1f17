package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/voxcore/internal/api"
	"github.com/ashureev/voxcore/internal/cache"
	"github.com/ashureev/voxcore/internal/config"
	"github.com/ashureev/voxcore/internal/conversation"
	"github.com/ashureev/voxcore/internal/dialog"
	"github.com/ashureev/voxcore/internal/identity"
	"github.com/ashureev/voxcore/internal/intent"
	"github.com/ashureev/voxcore/internal/latency"
	"github.com/ashureev/voxcore/internal/middleware"
	"github.com/ashureev/voxcore/internal/orchestrator"
	"github.com/ashureev/voxcore/internal/reasoning"
	"github.com/ashureev/voxcore/internal/stream"
	"github.com/ashureev/voxcore/internal/sweep"
	"github.com/ashureev/voxcore/internal/transport"
)

const (
	dialogSweepInterval       = 30 * time.Second
	cacheSweepInterval        = 5 * time.Minute
	conversationSweepInterval = time.Hour
	shutdownTimeout           = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and NATS server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.LogLevel))
		},
	}
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Conversation.Backend)

	history, err := conversation.Open(ctx, conversation.Config{
		Backend:     cfg.Conversation.Backend,
		DBPath:      cfg.Conversation.DBPath,
		RedisURL:    cfg.Conversation.RedisURL,
		TTL:         cfg.Conversation.TTL,
		MaxMessages: cfg.Conversation.MaxMessages,
	}, logger)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer func() {
		if closeErr := history.Close(); closeErr != nil {
			logger.Error("Failed to close conversation store", "error", closeErr)
		}
	}()
	if err := history.Ping(ctx); err != nil {
		return fmt.Errorf("conversation store health check: %w", err)
	}
	logger.Info("Conversation store connected", "backend", cfg.Conversation.Backend)

	classifierOpts := []intent.Option{}
	if cfg.AliasesPath != "" {
		aliases, err := intent.LoadAliases(cfg.AliasesPath)
		if err != nil {
			return err
		}
		classifierOpts = append(classifierOpts, intent.WithAliases(aliases))
	}
	classifier := intent.New(classifierOpts...)

	// Remote reasoning is optional; without it requests fall back to offline classification.
	var (
		resolver reasoning.Resolver
		health   api.ReasonerHealth
	)
	if cfg.Reasoning.Addr != "" {
		grpcCfg := reasoning.DefaultGrpcClientConfig(cfg.Reasoning.Addr)
		grpcCfg.Token = cfg.Reasoning.Token
		grpcCfg.RequestTimeout = cfg.Reasoning.Timeout
		client, err := reasoning.NewGrpcClient(grpcCfg, logger)
		if err != nil {
			logger.Warn("Failed to create reasoning client, remote reasoning disabled", "error", err)
		} else {
			defer client.Close()
			resolver = client
			health = client
		}
	} else {
		logger.Info("Remote reasoning disabled (REASONING_ADDR not set)")
	}

	responses, err := cache.New[orchestrator.Answer](cache.Config{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL,
	}, cache.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create response cache: %w", err)
	}

	dialogs := dialog.NewManager(
		dialog.WithTimeouts(cfg.Dialog.ConfirmationTimeout, cfg.Dialog.DisambiguationTimeout),
		dialog.WithLogger(logger),
	)
	streams := stream.NewDispatcher(stream.WithBatchWords(cfg.Stream.BatchWords), stream.WithLogger(logger))
	defer streams.CancelAll()

	var recorder *latency.Recorder
	if cfg.Diagnostics.Enabled {
		recorder = latency.NewRecorder(cfg.Diagnostics.Size)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Classifier:    classifier,
		Dialogs:       dialogs,
		Streams:       streams,
		Cache:         responses,
		Resolver:      resolver,
		History:       history,
		Executor:      orchestrator.Acknowledge,
		Recorder:      recorder,
		AssistantName: cfg.AssistantName,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	limiter := transport.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	sessions := transport.NewSessionManager(logger)

	workers := []*sweep.Worker{
		sweep.Start(ctx, "dialog", dialogSweepInterval, dialogs.SweepFunc, logger),
		sweep.Start(ctx, "response_cache", cacheSweepInterval, responses.SweepFunc, logger),
		sweep.Start(ctx, "rate_limiter", limiter.Window(), limiter.SweepFunc, logger),
		sweep.Start(ctx, "conversation", conversationSweepInterval, pruneHistory(history, logger), logger),
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	wsHandler := transport.NewWebSocketHandler(transport.WebSocketConfig{
		Pipeline:      orch,
		Canceller:     streams,
		Partial:       classifier,
		Sessions:      sessions,
		Limiter:       limiter,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Logger:        logger,
	})
	sseHandler := transport.NewSSEHandler(orch, streams, limiter, cfg.Stream.MaxRequestBodySize, logger)
	apiHandler := api.NewHandler(api.Deps{
		Store:    history,
		Reasoner: health,
		Recorder: recorder,
		Cache:    responses,
		Partial:  classifier,
		Sessions: sessions,
		Logger:   logger,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	sseHandler.RegisterRoutes(r)
	r.Get("/ws", wsHandler.ServeHTTP)

	// SSE replies stream for as long as the answer takes, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.NATS.URL != "" {
		nt, err := transport.NewNATSTransport(transport.NATSConfig{
			URL:    cfg.NATS.URL,
			Name:   "voxcore",
			Prefix: cfg.NATS.SubjectPrefix,
		}, orch, streams, logger)
		if err != nil {
			return err
		}
		if err := nt.Start(); err != nil {
			_ = nt.Close()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return nt.Close()
		})
	}

	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		streams.CancelAll()
		sessions.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}

func pruneHistory(store conversation.Store, logger *slog.Logger) sweep.Func {
	return func(ctx context.Context) {
		n, err := store.Prune(ctx)
		if err != nil {
			logger.Warn("Conversation prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Debug("Conversation prune removed stale data", "count", n)
		}
	}
}
