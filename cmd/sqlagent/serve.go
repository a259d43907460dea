package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/llm"
	"github.com/xiaot623/gogo/sqlagent/internal/agent"
	"github.com/xiaot623/gogo/sqlagent/internal/config"
	"github.com/xiaot623/gogo/sqlagent/internal/eventbus"
	"github.com/xiaot623/gogo/sqlagent/internal/executor"
	"github.com/xiaot623/gogo/sqlagent/internal/memory"
	"github.com/xiaot623/gogo/sqlagent/internal/repository"
	"github.com/xiaot623/gogo/sqlagent/internal/schema"
	"github.com/xiaot623/gogo/sqlagent/internal/service"
	"github.com/xiaot623/gogo/sqlagent/internal/sqlguard"
	transporthttp "github.com/xiaot623/gogo/sqlagent/internal/transport/http"
	"github.com/xiaot623/gogo/sqlagent/internal/transport/http/ws"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP, SSE and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().
		Int("http_port", cfg.HTTPPort).
		Str("store", cfg.DatabaseURL).
		Str("llm_provider", cfg.LLMProvider).
		Str("default_database", cfg.DefaultDatabase).
		Msg("Starting sqlagent...")

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	defer registry.DisconnectAll(context.Background())

	policy, err := sqlguard.LoadPolicy(ctx, cfg.SQLPolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize sql policy: %w", err)
	}

	client, err := llm.NewLLMClient(ctx, cfg.LLMProvider, cfg.LLM())
	if err != nil {
		return fmt.Errorf("failed to initialize llm client: %w", err)
	}

	schemas := schema.NewService(registry, cfg.DefaultDatabase, cfg.SchemaMaxChars)
	mem := memory.NewManager(store, cfg.MemoryMaxHistory)
	orchestrator := agent.New(client, schemas, executor.New(registry, sqlguard.NewValidator(policy)), mem, agent.Options{
		MaxRetries:    cfg.MaxRetries,
		QueryTimeout:  cfg.SQLTimeout,
		MaxResultRows: cfg.ResultMaxRows,
		DirectQuery:   cfg.DirectQuery,
	})

	bus := eventbus.New()
	defer bus.Close()

	svc := service.New(store, orchestrator, mem, schemas, registry, bus)
	hub := ws.NewHub()
	wsServer := ws.NewServer(ws.Config{
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		PingInterval:   cfg.PingInterval,
		MaxMessageSize: cfg.MaxMessageSize,
	}, hub, svc)
	e := transporthttp.NewServer(svc, wsServer)

	g, gctx := errgroup.WithContext(ctx)
	events, err := bus.Subscribe(gctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to turn events: %w", err)
	}

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Forward(events)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Info().Str("addr", addr).Msg("HTTP server started")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down sqlagent...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("sqlagent stopped")
	return err
}
