package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vitalwatch/platform/pkg/common/logger"
)

// SubscriberConfig points the subscriber at a TTN MQTT server.
type SubscriberConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	DeviceID string
	// Timeout bounds the handling of a single uplink.
	Timeout time.Duration
}

// Topic is the uplink topic for the configured application and device.
// TTN names the application after the MQTT username.
func (c SubscriberConfig) Topic() string {
	return UplinkTopic(c.Username, c.DeviceID)
}

// Processor handles one raw uplink.
type Processor interface {
	HandleUplink(ctx context.Context, topic string, raw []byte) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, topic string, raw []byte) error

func (f ProcessorFunc) HandleUplink(ctx context.Context, topic string, raw []byte) error {
	return f(ctx, topic, raw)
}

// Subscriber feeds TTN uplinks received over MQTT to a Processor.
type Subscriber struct {
	cfg       SubscriberConfig
	processor Processor
	client    mqtt.Client

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSubscriber(cfg SubscriberConfig, processor Processor) *Subscriber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Subscriber{cfg: cfg, processor: processor}
}

// Start connects and subscribes. The subscription is renewed on every
// reconnect; uplinks are handled until Stop or until ctx ends.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)
	opts.OnConnect = s.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Log.WithError(err).Warn("MQTT connection lost")
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.Timeout) {
		return fmt.Errorf("connecting to %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.Broker, err)
	}
	return nil
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	topic := s.cfg.Topic()
	logger.Log.WithField("broker", s.cfg.Broker).Info("Connected to MQTT broker")
	token := client.Subscribe(topic, 1, s.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		logger.Log.WithError(err).WithField("topic", topic).Error("Failed to subscribe")
		return
	}
	logger.Log.WithField("topic", topic).Info("Subscribed to uplinks")
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, s.cfg.Timeout)
	defer cancel()
	if err := s.processor.HandleUplink(ctx, msg.Topic(), msg.Payload()); err != nil {
		logger.Log.WithError(err).WithField("topic", msg.Topic()).Warn("Uplink not processed")
	}
}

// Stop unsubscribes and disconnects, waiting up to quiesce for in-flight work.
func (s *Subscriber) Stop(quiesce time.Duration) {
	if s.client != nil {
		if s.client.IsConnected() {
			s.client.Unsubscribe(s.cfg.Topic()).WaitTimeout(quiesce)
		}
		s.client.Disconnect(uint(quiesce.Milliseconds()))
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}
