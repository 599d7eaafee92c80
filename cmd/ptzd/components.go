package main

import (
	"context"
	"database/sql"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/config"
	"github.com/technosupport/ts-ptz/internal/data"
	"github.com/technosupport/ts-ptz/internal/events"
	"github.com/technosupport/ts-ptz/internal/metrics"
	"github.com/technosupport/ts-ptz/internal/ptz"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/hanwha"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/onvif"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/vms"
	"github.com/technosupport/ts-ptz/internal/ptz/autostop"
)

// components holds everything a dispatch needs. Optional backends are nil
// when disabled or unavailable.
type components struct {
	DB     *sql.DB
	Redis  *redis.Client
	NATS   *nats.Conn
	VMS    *vms.Prober
	ONVIF  *onvif.Client
	Hanwha *hanwha.Client
	Stops  *autostop.Registry
	Events events.Publisher
	Svc    *ptz.Service
}

type buildOptions struct {
	Registry bool
	Redis    bool
	NATS     bool
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts buildOptions) (*components, error) {
	c := &components{Events: events.NopPublisher{}}

	deps := ptz.Deps{Logger: logger.Named("ptz")}

	if opts.Registry {
		db, err := data.Open(ctx, cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return nil, err
		}
		c.DB = db
		deps.VMSRegistry = data.VMSModel{DB: db}
		deps.AccessPoints = data.AccessPointModel{DB: db}
	}

	if opts.Redis && cfg.Redis.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			// the limiter fails open, so a cold Redis is not fatal
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	if opts.NATS && cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, "ptzd")
		if err != nil {
			logger.Warn("nats unavailable, command events disabled", zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			c.NATS = nc
			c.Events = events.NewNATSPublisher(nc, cfg.NATS.Subject, cfg.NATS.MaxRetries)
		}
	}
	deps.Events = c.Events

	c.VMS = vms.NewProber(vms.Config{Timeout: cfg.PTZ.VMS.Timeout, Speed: cfg.PTZ.VMS.Speed}, logger.Named("vms"))
	c.ONVIF = onvif.NewClient(onvif.Config{
		Timeout:     cfg.PTZ.ONVIF.Timeout,
		Speed:       cfg.PTZ.ONVIF.Speed,
		MoveTimeout: cfg.PTZ.ONVIF.MoveTimeout,
	}, onvif.NewCache(cfg.PTZ.ONVIF.CacheSize, cfg.PTZ.ONVIF.CacheTTL), logger.Named("onvif"))
	c.Hanwha = hanwha.NewClient(hanwha.Config{
		Channel:      cfg.PTZ.Hanwha.Channel,
		ProbeTimeout: cfg.PTZ.Hanwha.ProbeTimeout,
		Timeout:      cfg.PTZ.Hanwha.Timeout,
		Tuning:       hanwhaTuning(cfg.PTZ.Hanwha),
	}, logger.Named("hanwha"))
	c.Stops = autostop.New(autostop.Options{
		Coalesce:    cfg.PTZ.AutoStop.Coalesce,
		FireTimeout: cfg.PTZ.AutoStop.FireTimeout,
		OnFire: func(key string, err error) {
			metrics.AutoStopFired.WithLabelValues(metrics.ResultLabel(err)).Inc()
		},
	}, logger.Named("autostop"))

	deps.VMS = c.VMS
	deps.ONVIF = c.ONVIF
	deps.Hanwha = c.Hanwha
	deps.AutoStop = c.Stops
	c.Svc = ptz.NewService(deps)
	return c, nil
}

// applyTunables pushes the hot-reloadable part of cfg into running clients.
func (c *components) applyTunables(cfg *config.Config) {
	c.VMS.SetSpeed(cfg.PTZ.VMS.Speed)
	c.ONVIF.SetSpeed(cfg.PTZ.ONVIF.Speed)
	c.Hanwha.SetTuning(hanwhaTuning(cfg.PTZ.Hanwha))
	c.Stops.SetCoalesce(cfg.PTZ.AutoStop.Coalesce)
}

func (c *components) Close() {
	if c.Stops != nil {
		c.Stops.Close()
	}
	if c.NATS != nil {
		c.NATS.Drain()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

func hanwhaTuning(h config.HanwhaConfig) hanwha.Tuning {
	return hanwha.Tuning{
		PanStep:       h.PanStep,
		TiltStep:      h.TiltStep,
		ZoomStep:      h.ZoomStep,
		InvertPan:     h.InvertPan,
		BurstCount:    h.BurstCount,
		BurstInterval: h.BurstInterval,
	}
}
