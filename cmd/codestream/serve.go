package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/dontdude/codestream/internal/config"
	"github.com/dontdude/codestream/internal/domain"
	"github.com/dontdude/codestream/internal/execution"
	"github.com/dontdude/codestream/internal/logger"
	"github.com/dontdude/codestream/internal/platform/docker"
	"github.com/dontdude/codestream/internal/platform/store"
	"github.com/dontdude/codestream/internal/platform/web"
	"github.com/dontdude/codestream/internal/worker"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution service",
	Long: `Start the HTTP service. Submissions are accepted on POST /execute and
streamed over server-sent events or WebSocket.

Examples:
  codestream serve
  codestream serve --addr :9090 --config ./codestream.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Address to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			logger.NewFromConfig,
			newDockerClient,
			newStore,
			execution.NewRegistry,
			newPool,
			newService,
			newReaper,
			newServer,
		),
		fx.Invoke(installLogger, startReaper, startServer),
		fx.StopTimeout(cfg.Server.ShutdownTimeout+cfg.Sandbox.Timeout),
		// Use the application logger for fx logs
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),
	)

	app.Run()
	return app.Err()
}

func installLogger(log *slog.Logger) {
	slog.SetDefault(log)
}

func dockerConfig(cfg *config.Config) docker.Config {
	sb := cfg.Sandbox
	return docker.Config{
		Host:          sb.DockerHost,
		MemoryMB:      sb.MemoryMB,
		CPUQuota:      sb.CPUQuota,
		CPUPeriod:     sb.CPUPeriod,
		CPUShares:     sb.CPUShares,
		PidsLimit:     sb.PidsLimit,
		MaxFileSizeMB: sb.MaxFileSizeMB,
		MaxOpenFiles:  sb.MaxOpenFiles,
		User:          sb.User,
		WorkspaceDir:  sb.WorkspaceDir,
		Timeout:       sb.Timeout,
		KillGrace:     sb.KillGrace,

		WorkspaceSizeMB: sb.WorkspaceMB,
	}
}

func serviceConfig(cfg *config.Config) execution.Config {
	return execution.Config{
		ImagePrefix:  cfg.Sandbox.ImagePrefix,
		StagingDir:   cfg.Sandbox.StagingDir,
		WorkspaceDir: cfg.Sandbox.WorkspaceDir,
		SinkBuffer:   cfg.Execution.SinkBuffer,
		SendTimeout:  cfg.Execution.SendTimeout,
	}
}

func storeOptions(cfg *config.Config) store.Options {
	return store.Options{
		Backend:     cfg.Storage.Backend,
		RedisAddr:   cfg.Storage.Redis.Addr,
		RedisPrefix: cfg.Storage.Redis.Prefix,
		SQLitePath:  cfg.Storage.SQLite.Path,
	}
}

func newDockerClient(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*docker.Client, error) {
	client, err := docker.NewClient(context.Background(), dockerConfig(cfg), log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

func newStore(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (domain.ExecutionStore, error) {
	s, err := store.Open(context.Background(), storeOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	log.Info("Execution store ready", "backend", cfg.Storage.Backend)
	lc.Append(fx.StopHook(s.Close))
	return s, nil
}

func newPool(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *worker.Pool {
	pool := worker.NewPool(cfg.Execution.MaxConcurrency, cfg.Execution.QueueSize, log)
	lc.Append(fx.StartStopHook(pool.Start, pool.Stop))
	return pool
}

func newService(cfg *config.Config, st domain.ExecutionStore, client *docker.Client, registry *execution.Registry, pool *worker.Pool, log *slog.Logger) *execution.Service {
	return execution.NewService(st, client, registry, pool, serviceConfig(cfg), log)
}

func newReaper(cfg *config.Config, client *docker.Client, registry *execution.Registry, log *slog.Logger) *execution.Reaper {
	return execution.NewReaper(client, registry, cfg.OrphanAge(), log)
}

func newServer(cfg *config.Config, svc *execution.Service, log *slog.Logger) *web.Server {
	return web.NewServer(web.Config{
		Addr:        cfg.Server.Addr,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	}, svc, log)
}

func startReaper(lc fx.Lifecycle, cfg *config.Config, reaper *execution.Reaper) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				reaper.Run(ctx, cfg.Execution.ReapInterval)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startServer(lc fx.Lifecycle, cfg *config.Config, srv *web.Server, svc *execution.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			// End open streams first so Shutdown does not wait on them.
			svc.StopAll()

			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
