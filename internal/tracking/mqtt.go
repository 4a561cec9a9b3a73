package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// DefaultTopicPrefix is the root of the device topics.
const DefaultTopicPrefix = "busflow/devices"

// Subscriber is the part of mqtt.Client used by MQTTSource.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTSource receives device samples published on
// <prefix>/<driverID>/position and faults on <prefix>/<driverID>/error.
type MQTTSource struct {
	client  Subscriber
	prefix  string
	qos     byte
	timeout time.Duration
	log     logrus.FieldLogger
}

// MQTTOption configures an MQTTSource.
type MQTTOption func(*MQTTSource)

// WithQoS sets the subscription QoS.
func WithQoS(qos byte) MQTTOption {
	return func(m *MQTTSource) { m.qos = qos }
}

// WithSubscribeTimeout bounds the wait for broker acknowledgements.
func WithSubscribeTimeout(d time.Duration) MQTTOption {
	return func(m *MQTTSource) { m.timeout = d }
}

// WithMQTTLogger sets the logger.
func WithMQTTLogger(l logrus.FieldLogger) MQTTOption {
	return func(m *MQTTSource) { m.log = l }
}

// NewMQTTSource creates a source on top of a connected client.
func NewMQTTSource(client Subscriber, prefix string, opts ...MQTTOption) *MQTTSource {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	m := &MQTTSource{client: client, prefix: prefix, qos: 1, timeout: 10 * time.Second, log: discard}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PositionTopic is where a driver's device publishes Samples.
func PositionTopic(prefix, driverID string) string {
	return prefix + "/" + driverID + "/position"
}

// ErrorTopic is where a driver's device publishes FaultReports.
func ErrorTopic(prefix, driverID string) string {
	return prefix + "/" + driverID + "/error"
}

type mqttSub struct {
	src       *MQTTSource
	topics    []string
	cancelled atomic.Bool
	once      sync.Once
	stopCtx   func() bool
	mu        sync.Mutex
}

// Watch implements Source.
func (m *MQTTSource) Watch(ctx context.Context, driverID string, _ WatchOptions, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	posTopic, errTopic := PositionTopic(m.prefix, driverID), ErrorTopic(m.prefix, driverID)
	sub := &mqttSub{src: m}
	log := m.log.WithField("driver_id", driverID)

	onPosition := func(_ mqtt.Client, msg mqtt.Message) {
		if sub.cancelled.Load() || h.OnPosition == nil {
			return
		}
		var s Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.WithError(err).Warn("Discarding malformed position payload")
			return
		}
		h.OnPosition(s.Position())
	}
	onError := func(_ mqtt.Client, msg mqtt.Message) {
		if sub.cancelled.Load() || h.OnError == nil {
			return
		}
		var r FaultReport
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			r = FaultReport{Code: string(CodeUnknown), Message: string(msg.Payload())}
		}
		h.OnError(NewPositionError(r))
	}

	if err := m.wait(m.client.Subscribe(posTopic, m.qos, onPosition)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", posTopic, err)
	}
	sub.topics = append(sub.topics, posTopic)
	if err := m.wait(m.client.Subscribe(errTopic, m.qos, onError)); err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("subscribe %s: %w", errTopic, err)
	}
	sub.topics = append(sub.topics, errTopic)

	stop := context.AfterFunc(ctx, sub.Cancel)
	sub.mu.Lock()
	sub.stopCtx = stop
	sub.mu.Unlock()
	log.WithField("topic", posTopic).Debug("Subscribed to device topics")
	return sub, nil
}

func (m *MQTTSource) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(m.timeout) {
		return context.DeadlineExceeded
	}
	return tok.Error()
}

func (s *mqttSub) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.mu.Lock()
		stop := s.stopCtx
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if len(s.topics) == 0 {
			return
		}
		// Cancel may run inside a paho message handler, which must not wait
		// on a token.
		go func() {
			if err := s.src.wait(s.src.client.Unsubscribe(s.topics...)); err != nil {
				s.src.log.WithError(err).WithField("topics", s.topics).Warn("Unsubscribe failed")
			}
		}()
	})
}

// ConnectMQTT connects a client to brokerURL with automatic reconnects.
func ConnectMQTT(brokerURL, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect %s: %w", brokerURL, context.DeadlineExceeded)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", brokerURL, err)
	}
	return client, nil
}
