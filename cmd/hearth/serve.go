package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/api"
	"github.com/samcharles93/hearth/internal/bus"
	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var errBusUnhealthy = errors.New("bus connection unhealthy")

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		enableBus   bool
		embedBus    bool
		telemetryOn bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Load the model and serve completions over HTTP and, optionally, NATS",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "bus",
				Usage:       "serve completion requests over NATS",
				Destination: &enableBus,
			},
			&cli.BoolFlag{
				Name:        "bus-embedded",
				Usage:       "run an in-process NATS server (implies --bus)",
				Destination: &embedBus,
			},
			&cli.BoolFlag{
				Name:        "telemetry",
				Usage:       "enable tracing and the /metrics endpoint",
				Destination: &telemetryOn,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			applyServeConfig(cmd, &cfg, addr, readTimeout, enableBus, embedBus, telemetryOn)
			if err := cfg.Validate(); err != nil {
				return cli.Exit("error: invalid configuration:\n"+err.Error(), 1)
			}

			log := newLogger(cfg.Log)
			ctx = logger.WithContext(ctx, log)
			return serve(ctx, cfg, log)
		},
	}
}

// applyServeConfig lets explicitly set serve flags override the file.
func applyServeConfig(c *cli.Command, cfg *config.Config, addr string, readTimeout time.Duration, enableBus, embedBus, telemetryOn bool) {
	if c.IsSet("addr") {
		cfg.Server.Address = addr
	}
	if c.IsSet("read-timeout") {
		cfg.Server.ReadHeaderTimeout = readTimeout
	}
	if c.IsSet("bus") {
		cfg.Bus.Enabled = enableBus
	}
	if c.IsSet("bus-embedded") {
		cfg.Bus.Embedded = embedBus
		if embedBus {
			cfg.Bus.Enabled = true
		}
	}
	if c.IsSet("telemetry") {
		cfg.Telemetry.Enabled = telemetryOn
	}
}

func serve(ctx context.Context, cfg config.Config, log logger.Logger) error {
	tel, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return cli.Exit("error: telemetry: "+err.Error(), 1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.Warn("telemetry shutdown failed", logger.Err(err))
		}
	}()

	// Fail fast: nothing is served until the model is resident.
	reg, err := openModel(ctx, cfg.LocalLlama, log)
	if err != nil {
		return cli.Exit("error: load model: "+err.Error(), 1)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("model dispose failed", logger.Err(err))
		}
	}()

	adapter := newAdapter(reg, cfg.Generation, log, tel.MeterProvider, tel.TracerProvider)

	var health api.HealthFunc
	if cfg.Bus.Enabled {
		svc, stopBus, err := startBus(ctx, cfg.Bus, adapter, log)
		if err != nil {
			return cli.Exit("error: bus: "+err.Error(), 1)
		}
		defer stopBus()
		health = func() error {
			if !svc.Healthy() {
				return errBusUnhealthy
			}
			return nil
		}
	}

	server := api.NewServer(adapter, api.Options{
		Generation: cfg.Generation,
		Metrics:    tel.Handler,
		Health:     health,
		Logger:     log,
	})
	e := server.Echo()

	log.Info("starting server", "address", cfg.Server.Address)
	sc := echo.StartConfig{
		Address: cfg.Server.Address,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
			return nil
		},
	}
	if err := sc.Start(ctx, e); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}

// startBus connects to NATS, or starts an embedded server first, and
// subscribes the completion service. The returned func tears everything
// down in reverse order.
func startBus(ctx context.Context, cfg config.BusConfig, c bus.Completer, log logger.Logger) (*bus.Service, func(), error) {
	var (
		embedded *bus.EmbeddedServer
		url      string
		err      error
	)
	if cfg.Embedded {
		embedded, err = bus.StartEmbedded("127.0.0.1", cfg.Port, log)
		if err != nil {
			return nil, nil, err
		}
		url = embedded.URL()
	}

	client, err := bus.Connect(cfg, url, log)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, err
	}

	svc := bus.NewService(ctx, cfg, client, c, log)
	if err := svc.Start(); err != nil {
		client.Close()
		embedded.Shutdown()
		return nil, nil, err
	}

	return svc, func() {
		svc.Close()
		client.Close()
		embedded.Shutdown()
	}, nil
}
