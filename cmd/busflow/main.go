package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/app"
	"github.com/ukydev/busflow/internal/auth"
	"github.com/ukydev/busflow/internal/config"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/handlers"
	"github.com/ukydev/busflow/internal/session"
	"github.com/ukydev/busflow/internal/simulator"
	"github.com/ukydev/busflow/internal/tracking"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// instance is a wired BusFlow process.
type instance struct {
	app    *app.App
	server *http.Server
	mqtt   mqtt.Client // nil when the MQTT source is disabled
}

func (in *instance) close() {
	in.app.Close()
	if in.mqtt != nil {
		in.mqtt.Disconnect(250)
	}
}

func appConfig(cfg config.Config) app.Config {
	c := app.DefaultConfig()
	c.Simulator.Interval = cfg.SimTick
	c.Watch.Timeout = cfg.GPSTimeout
	return c
}

// build wires the fleet, the session context and the HTTP API. ctx bounds the
// simulator and every device subscription.
func build(ctx context.Context, cfg config.Config, logger *log.Logger) (*instance, error) {
	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		return nil, err
	}

	store := fleet.NewStore(fleet.WithLogger(logger.WithField("component", "fleet")))
	store.Seed(seed.Fleet(time.Now()))
	sessions := session.NewManager(store, session.WithLogger(logger.WithField("component", "session")))

	push := tracking.NewPushSource()
	in := &instance{}
	var source tracking.Source = push
	if cfg.MQTTBrokerURL != "" {
		client, err := tracking.ConnectMQTT(cfg.MQTTBrokerURL, "busflow-"+uuid.NewString(), 10*time.Second)
		if err != nil {
			return nil, err
		}
		in.mqtt = client
		mq := tracking.NewMQTTSource(client, cfg.MQTTTopicPrefix, tracking.WithMQTTLogger(logger.WithField("component", "mqtt")))
		source = tracking.Multi(push, mq)
		logger.WithFields(log.Fields{"broker": cfg.MQTTBrokerURL, "prefix": cfg.MQTTTopicPrefix}).Info("MQTT position source enabled")
	}

	appLog := logger.WithField("component", "app")
	in.app = app.New(ctx, store, sessions, source, appConfig(cfg),
		app.WithLogger(appLog),
		app.WithSimulatorOptions(simulator.WithLogger(logger.WithField("component", "simulator"))),
	)

	router := handlers.NewRouter(handlers.Deps{
		App:               in.app,
		Push:              push,
		Tokens:            auth.NewService(cfg.JWTSecret, cfg.JWTExpiry),
		PositionRateLimit: cfg.PositionRateLimit,
		Log:               logger.WithField("component", "http"),
	})
	in.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return in, nil
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	logger := log.StandardLogger()
	if err := cfg.ConfigureLogger(logger); err != nil {
		log.WithError(err).Fatal("Invalid logging configuration")
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using the development default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := build(ctx, cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to start BusFlow")
	}
	defer in.close()

	log.WithFields(log.Fields{
		"port":        cfg.Port,
		"sim_tick":    cfg.SimTick,
		"gps_timeout": cfg.GPSTimeout,
	}).Info("HTTP server listening")
	if err := serve(ctx, in.server); err != nil {
		log.WithError(err).Error("HTTP server stopped")
		return
	}
	log.Info("Shut down cleanly")
}
