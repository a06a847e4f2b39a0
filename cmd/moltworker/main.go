package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dagger.io/dagger"
	"github.com/spf13/cobra"

	"github.com/Trueflutter/moltworker/internal/config"
	"github.com/Trueflutter/moltworker/pkg/api"
	"github.com/Trueflutter/moltworker/pkg/gateway"
	"github.com/Trueflutter/moltworker/pkg/relay"
	"github.com/Trueflutter/moltworker/pkg/sandbox"
)

func main() {
	root := &cobra.Command{
		Use:   "moltworker",
		Short: "Moltworker — WebSocket relay fronting a sandboxed Moltbot gateway",
	}

	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultFile, "config file path")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := context.Background()

	runtime, cleanup, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	supervisor, err := sandbox.NewSupervisor(runtime, logger)
	if err != nil {
		return err
	}

	manager, err := gateway.NewManager(supervisor, gateway.Config{
		Command:      cfg.Gateway.Command,
		Port:         cfg.Gateway.Port,
		PollInterval: time.Duration(cfg.Gateway.PollIntervalMs) * time.Millisecond,
		MaxAttempts:  cfg.Gateway.MaxAttempts,
	}, logger)
	if err != nil {
		return err
	}

	proxy := relay.NewProxy(manager, logger)
	handlers := api.NewHandlers(supervisor,
		time.Duration(cfg.Gateway.PollIntervalMs)*time.Millisecond,
		cfg.Gateway.MaxAttempts, logger)

	mux := http.NewServeMux()
	mux.Handle("/", proxy)
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/processes", handlers.HandleProcesses)
	mux.HandleFunc("/processes/", handlers.HandleProcess)
	mux.HandleFunc("/exec", handlers.HandleExec)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		logger.Info("starting relay server", "addr", srv.Addr, "runtime", cfg.Runtime)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := runtime.Close(shutdownCtx); err != nil {
		logger.Error("runtime close error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sandbox.Runtime, func(), error) {
	switch cfg.Runtime {
	case "dagger":
		logger.Info("connecting to dagger")
		dag, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stderr))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to dagger: %w", err)
		}
		rt, err := sandbox.NewDaggerRuntime(dag, cfg.Gateway.Image, logger)
		if err != nil {
			dag.Close()
			return nil, nil, err
		}
		return rt, func() { dag.Close() }, nil
	case "docker":
		rt, err := sandbox.NewDockerRuntime(cfg.Gateway.Image, logger)
		if err != nil {
			return nil, nil, err
		}
		return rt, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
}
