package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"driveguard/internal/alert"
	"driveguard/internal/api"
	"driveguard/internal/auth"
	"driveguard/internal/config"
	"driveguard/internal/database"
	"driveguard/internal/detection"
	"driveguard/internal/events"
	"driveguard/internal/location"
	"driveguard/internal/logging"
	"driveguard/internal/pipeline"
	"driveguard/internal/publish"
	"driveguard/internal/retention"
	"driveguard/internal/services"
	"driveguard/internal/telegram"
	"driveguard/internal/ws"
)

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	if err := run(c.Context, cfg, logger); err != nil {
		logger.Errorw("driveguard stopped with errors", "error", err)
		return err
	}
	return nil
}

func locationProvider(cfg config.LocationConfig) location.Provider {
	switch cfg.Provider {
	case "static":
		return location.StaticProvider{Latitude: cfg.Latitude, Longitude: cfg.Longitude, Place: cfg.Place}
	case "ipapi":
		return location.NewIPAPIProvider(cfg.URL, cfg.Timeout)
	}
	return nil
}

func alertPlayer(cfg config.AlertConfig, logger *zap.SugaredLogger) alert.Player {
	if cfg.Muted {
		return alert.LogPlayer{Logger: logger}
	}
	return alert.NewExecPlayer(cfg.Command, cfg.Args, logger)
}

func observationSource(ctx context.Context, cfg config.InputConfig, logger *zap.SugaredLogger) (pipeline.Source, io.Closer, error) {
	if cfg.Command != "" {
		src, err := pipeline.NewCommandSource(ctx, cfg.Command, cfg.Args, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	}
	if cfg.File == "" || cfg.File == "-" {
		src := pipeline.NewJSONLSource(os.Stdin, logger)
		return src, src, nil
	}
	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return pipeline.NewJSONLSource(f, logger), f, nil
}

// run wires every component, blocks until a signal arrives or the input is
// exhausted, then shuts down in reverse order
func run(parent context.Context, cfg config.Config, logger *zap.SugaredLogger) (err error) {
	clk := clock.New()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	// Storage
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	closers = append(closers, db.Close)
	if err := db.Migrate(); err != nil {
		return err
	}

	// Location is resolved once per session
	loc := location.Unknown()
	if p := locationProvider(cfg.Location); p != nil {
		loc = location.ResolveOnce(parent, p, logger.Named("location"))
	}

	// Alerts
	if cfg.Alert.GenerateTones && !cfg.Alert.Muted {
		for path, hz := range map[string]float64{cfg.Alert.DrowsyTone: drowsyToneHz, cfg.Alert.AbsenceTone: absenceToneHz} {
			if _, err := alert.EnsureTone(path, hz, toneDuration); err != nil {
				logger.Warnw("alert tone unavailable", "path", path, "error", err)
			}
		}
	}
	alerts := alert.NewController(alertPlayer(cfg.Alert, logger.Named("player")), alert.Tones{
		Drowsy:  cfg.Alert.DrowsyTone,
		Absence: cfg.Alert.AbsenceTone,
	}, logger.Named("alert"))
	closers = append(closers, func() error {
		alerts.Set(alert.None)
		return nil
	})

	// Event delivery
	bus := events.NewBus()
	closers = append(closers, func() error {
		bus.Close()
		return nil
	})

	hub := ws.NewHub(cfg.WS.Backlog, logger.Named("ws"))
	closers = append(closers, func() error {
		hub.Close()
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		kp := publish.NewKafkaPublisher(cfg.Kafka, logger.Named("kafka"))
		bus.Subscribe(kp)
		closers = append(closers, kp.Close)
	}

	if cfg.MQTT.Broker != "" {
		client, err := publish.DialMQTT(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Warnw("mqtt forwarding disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			bus.Subscribe(publish.NewMQTTPublisher(client, cfg.MQTT, logger.Named("mqtt")))
			closers = append(closers, func() error {
				disconnectMQTT(client)
				return nil
			})
		}
	}

	if cfg.Telegram.Enabled {
		bot := telegram.NewTelegramBot(cfg.Telegram, clk, logger.Named("telegram"))
		bus.Subscribe(bot)
		closers = append(closers, func() error {
			bot.Wait()
			return nil
		})
	}

	emitter := events.NewEmitter(db, hub, bus, logger.Named("emitter"), events.EmitterOptions{
		QueueSize:    cfg.Emitter.QueueSize,
		StoreTimeout: cfg.Emitter.StoreTimeout,
	})
	emitter.Start()
	closers = append(closers, emitter.Close)

	// Detection
	machine, err := detection.NewMachine(cfg.Detection, clk, emitter, alerts, loc, logger.Named("machine"))
	if err != nil {
		return err
	}
	configSvc := services.NewConfigService(machine, db, logger.Named("config"))
	if _, err := configSvc.LoadPersisted(parent); err != nil {
		logger.Warnw("ignoring persisted detection options", "error", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	source, sourceCloser, err := observationSource(ctx, cfg.Input, logger.Named("source"))
	if err != nil {
		return err
	}
	if sourceCloser != nil {
		closers = append(closers, sourceCloser.Close)
	}
	runner := pipeline.NewRunner(source, machine, clk, cfg.Input.Interval, logger.Named("runner"))

	// Retention
	if cfg.Retention.MaxAge > 0 {
		pruner, err := retention.New(cfg.Retention, db, clk, logger.Named("retention"))
		if err != nil {
			return err
		}
		pruner.Start()
		closers = append(closers, pruner.Stop)
	}

	// API
	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}
	server := api.New(api.Services{
		Health: services.NewHealthService(db, runner),
		Auth:   services.NewAuthService(authenticator),
		Status: services.NewStatusService(services.StatusDeps{
			Machine:  machine,
			Runner:   runner,
			Emitter:  emitter,
			Alerts:   alerts,
			Location: loc,
			Clients:  hub.ClientCount,
			Clock:    clk,
		}),
		Events: services.NewEventsService(db),
		Config: configSvc,
	}, ws.NewHandler(hub, logger.Named("ws")), logger.Named("http"))

	errc := make(chan error)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-sig)
	}()

	var wg sync.WaitGroup
	handleHTTPServer(ctx, cfg.HTTP.Addr, server, authenticator, &wg, errc, logger, cfg.HTTP.Debug)

	var health *healthReporter
	if cfg.GRPC.Addr != "" {
		health = handleGRPCServer(ctx, cfg.GRPC.Addr, &wg, errc, logger)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		health.serving(true)
		err := runner.Run(ctx)
		health.serving(false)

		switch {
		case err == nil:
			errc <- errors.New("input exhausted")
		case errors.Is(err, context.Canceled):
		default:
			errc <- err
		}
	}()

	logger.Infow("driveguard running",
		"http", cfg.HTTP.Addr,
		"ear_threshold", cfg.Detection.EARThreshold,
		"drowsy_frames", cfg.Detection.DrowsyFrames,
		"absence_frames", cfg.Detection.AbsenceFrames,
		"location", loc.PlaceName(),
	)

	// Wait for a signal or a failed server
	logger.Infof("exiting (%v)", <-errc)

	cancel()
	go func() {
		// Late senders must not block once nobody reads errc
		for range errc {
		}
	}()
	wg.Wait()

	stats := runner.Stats()
	logger.Infow("exited", "ticks", stats.Ticks, "events", stats.Events, "source_errors", stats.SourceErrors)
	return nil
}

func disconnectMQTT(client mqtt.Client) {
	client.Disconnect(250)
}
