package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"dialog-service/config"
	"dialog-service/models"
	"dialog-service/routes"
	"dialog-service/services"
	"dialog-service/utils"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "dialog-service",
		Usage:   "Authenticated one-to-one dialogs over REST and websockets",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"CHAT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "migrate the schema and start the HTTP server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "migrate the schema and exit",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	log := utils.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}

func migrate(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	// 初始化数据库
	db, err := config.InitDB(cfg.DB, log)
	if err != nil {
		return err
	}
	// 自动迁移
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("schema migrated")
	return nil
}

func serve(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg.DB, log)
	if err != nil {
		return err
	}
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	kv, err := config.OpenKV(cfg.KV, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Error("close session store", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)

	store := services.NewStore(db)
	tokens := services.NewTokenManager(cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret,
		services.WithSecureCookie(cfg.Server.SecureCookie))
	sessions := services.NewSessionStore(kv, cfg.Server.SecureCookie, metrics)
	registry := services.NewRegistry(log.With("component", "registry"), metrics)
	dialogs := services.NewDialogService(store, registry, log.With("component", "dialog"), metrics,
		services.FrameLimit{Rate: cfg.WS.FrameRate, Burst: cfg.WS.FrameBurst})

	// 注册路由
	r := routes.RegisterRoutes(routes.Deps{
		Store:       store,
		Tokens:      tokens,
		Sessions:    sessions,
		Auth:        services.NewAuthService(store, tokens, sessions, log.With("component", "auth")),
		Users:       services.NewUserService(store),
		Dialogs:     dialogs,
		Gatherer:    reg,
		Log:         log,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "live", registry.Stats())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// hijacked websockets are not tracked by Shutdown
	registry.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
