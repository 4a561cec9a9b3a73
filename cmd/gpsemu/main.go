package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/tracking"
	"golang.org/x/sync/errgroup"
)

// settings of one emulator run, read from the environment.
type settings struct {
	APIURL        string
	DriverEmail   string
	Interval      time.Duration
	MonitorEvery  time.Duration
	MQTTBrokerURL string
	TopicPrefix   string
	Wander        bool
}

func loadSettings(getenv func(string) string) settings {
	s := settings{
		APIURL:       "http://localhost:8080/api",
		DriverEmail:  "ahmed@busflow.dz",
		Interval:     2 * time.Second,
		MonitorEvery: 15 * time.Second,
		TopicPrefix:  tracking.DefaultTopicPrefix,
	}
	if v := getenv("API_BASE_URL"); v != "" {
		s.APIURL = v
	}
	if v := getenv("DRIVER_EMAIL"); v != "" {
		s.DriverEmail = v
	}
	if v := getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			s.Interval = time.Duration(n) * time.Second
		}
	}
	s.MQTTBrokerURL = getenv("MQTT_BROKER_URL")
	if v := getenv("MQTT_TOPIC_PREFIX"); v != "" {
		s.TopicPrefix = v
	}
	s.Wander = getenv("DEVICE_MODE") == "wander"
	return s
}

// emit publishes one sample per tick until ctx ends. Publish failures are
// logged and the device keeps moving.
func emit(ctx context.Context, pub Publisher, interval time.Duration, next func(time.Time) tracking.Sample) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			s := next(now)
			if err := pub.Publish(ctx, s); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.WithError(err).Warn("Failed to publish sample")
				continue
			}
			log.WithFields(log.Fields{"lat": s.Latitude, "lng": s.Longitude}).Debug("Sent sample")
		}
	}
}

// monitor polls the shift and stops the run once tracking has ended on the
// server, for example after a logout or a location fault.
func monitor(ctx context.Context, api *apiClient, every time.Duration) error {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			st, err := api.Shift(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("shift check: %w", err)
			}
			if !st.Tracking {
				return fmt.Errorf("tracking stopped on the server: %s", st.FaultMessage)
			}
			log.WithFields(log.Fields{"bus_id": st.BusID, "samples": st.Samples}).Info("Shift active")
		}
	}
}

func run(ctx context.Context, s settings) error {
	api := newAPIClient(s.APIURL)
	user, err := api.Login(ctx, s.DriverEmail)
	if err != nil {
		return err
	}
	st, err := api.StartShift(ctx)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"driver_id": user.ID, "bus_id": st.BusID}).Info("Shift started")

	var pub Publisher = api
	if s.MQTTBrokerURL != "" {
		client, err := tracking.ConnectMQTT(s.MQTTBrokerURL, "gpsemu-"+user.ID, 10*time.Second)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		pub = newMQTTPublisher(client, s.TopicPrefix, user.ID)
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var next func(time.Time) tracking.Sample
	if s.Wander {
		var stop func()
		next, stop = wander(stops[0], r)
		defer stop()
	} else {
		dev := NewDevice(r, nil)
		next = func(now time.Time) tracking.Sample {
			dev.Step(s.Interval)
			return dev.Sample(now)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return emit(gctx, pub, s.Interval, next) })
	g.Go(func() error { return monitor(gctx, api, s.MonitorEvery) })
	return g.Wait()
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to read .env")
	}
	s := loadSettings(os.Getenv)

	log.WithFields(log.Fields{
		"api_url":  s.APIURL,
		"driver":   s.DriverEmail,
		"interval": s.Interval,
		"mqtt":     s.MQTTBrokerURL != "",
	}).Info("Starting device emulator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, s); err != nil {
		log.WithError(err).Fatal("Device emulator stopped")
	}
	log.Info("Device emulator stopped")
}
