package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heishamon/webserver"
	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/sensor/s0"
	"github.com/heishamon/webserver/sensor/s0/mqtt"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	logger, err := webserver.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err = run(cfg, logger); err != nil {
		// exiting non-zero makes the supervisor restart the device
		logger.Fatal("stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client *mqtt.Publisher
	publisher := s0.Discard
	if cfg.MQTT.Broker != "" {
		var err error
		if client, err = mqtt.Connect(cfg.MQTT, logger); err != nil {
			return err
		}
		defer client.Close()

		publisher = client
	}

	meter := s0.New(cfg, publisher, logger, time.Now())
	if client != nil {
		if err := client.RestoreTotals(cfg.MQTT.BaseTopic, meter); err != nil {
			return err
		}
	}
	app := webserver.New(cfg, logger)
	app.Metrics().Collect(meter.Collectors()...)

	r := app.Router()
	if err := r.Get("/json/s0", meter.JSONHandler()); err != nil {
		return err
	}
	if err := r.Get("/s0", meter.TableHandler()); err != nil {
		return err
	}
	if err := r.Post("/s0/edge", meter.EdgeHandler(time.Now)); err != nil {
		return err
	}

	go meter.Run(ctx, time.Second)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := app.Stop(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	return app.Serve()
}
