package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/api"
	"github.com/technosupport/ts-ptz/internal/config"
	"github.com/technosupport/ts-ptz/internal/logging"
	"github.com/technosupport/ts-ptz/internal/middleware"
	"github.com/technosupport/ts-ptz/internal/ratelimit"
	"github.com/technosupport/ts-ptz/internal/tokens"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the PTZ control HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.addr",
			},
		},
		Action: func(c *cli.Context) error {
			cc, err := newCommandContext(c)
			if err != nil {
				return err
			}
			defer cc.Logger.Sync()
			if addr := c.String("addr"); addr != "" {
				cc.Config.Server.Addr = addr
			}
			return serve(c.Context, cc)
		},
	}
}

func serve(parent context.Context, cc *commandContext) error {
	cfg, logger := cc.Config, cc.Logger
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := buildComponents(ctx, cfg, logger, buildOptions{Registry: true, Redis: true, NATS: true})
	if err != nil {
		return err
	}
	defer comp.Close()

	if cc.ConfigPath != "" {
		w := config.NewWatcher(cc.ConfigPath, logger.Named("config"), func(next *config.Config) {
			comp.applyTunables(next)
			cc.Level.SetLevel(logging.ParseLevel(next.Logging.Level))
		})
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	ptzHandler := &api.PTZHandler{Service: comp.Svc, Logger: logger.Named("api")}
	routerCfg := api.RouterConfig{
		Logger:         logger.Named("http"),
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.RateLimit.Enabled && comp.Redis != nil {
		limiter := ratelimit.NewLimiter(comp.Redis, "ptzd")
		ptzHandler.Limiter = limiter
		ptzHandler.Limit = cfg.RateLimit.Camera
		ptzHandler.ClientLimit = middleware.NewClientRateLimit(limiter, cfg.RateLimit.Client, logger.Named("ratelimit"))
	}
	if cfg.Auth.Enabled {
		routerCfg.Auth = middleware.NewJWTAuth(tokens.NewManager(cfg.Auth.SigningKey), tokens.ScopeControl, logger.Named("auth"))
	}

	health := &api.HealthHandler{Checks: map[string]api.Pinger{"registry": comp.DB}}
	if comp.Redis != nil {
		health.Checks["redis"] = api.PingFunc(func(ctx context.Context) error { return comp.Redis.Ping(ctx).Err() })
	}
	if comp.NATS != nil {
		health.Checks["nats"] = api.PingFunc(comp.NATS.FlushWithContext)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(routerCfg, ptzHandler, health),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ptzd listening", zap.String("addr", srv.Addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
