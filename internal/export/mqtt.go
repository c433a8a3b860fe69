package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/mudra/internal/session"
)

// MQTTConfig holds broker settings for MQTTSink.
type MQTTConfig struct {
	Broker   string // host:port
	ClientID string
	Topic    string // documents go to Topic/<name>
	QoS      byte
	Timeout  time.Duration
}

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTTSink publishes exported documents to an MQTT broker.
type MQTTSink struct {
	client  Publisher
	topic   string
	qos     byte
	timeout time.Duration

	published atomic.Uint64
}

var errPublishTimeout = errors.New("publish timeout")

// NewMQTTSink creates a sink publishing through client.
func NewMQTTSink(client Publisher, topic string, qos byte, timeout time.Duration) *MQTTSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTSink{
		client:  client,
		topic:   strings.TrimSuffix(topic, "/"),
		qos:     qos,
		timeout: timeout,
	}
}

// DialMQTT connects to the broker in cfg with auto-reconnect enabled and
// returns a sink plus the client for disconnecting.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return NewMQTTSink(client, cfg.Topic, cfg.QoS, cfg.Timeout), client, nil
}

// Topic returns the topic a document named name is published to.
func (s *MQTTSink) Topic(name string) string {
	return s.topic + "/" + strings.TrimSuffix(FileName(name), ".json")
}

// Write publishes doc as JSON and waits for the broker acknowledgement.
func (s *MQTTSink) Write(ctx context.Context, name string, doc session.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	topic := s.Topic(name)
	token := s.client.Publish(topic, s.qos, false, payload)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return errPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	s.published.Add(1)
	slog.Debug("session published", "topic", topic, "qos", s.qos, "size", len(payload))
	return nil
}

// Published returns how many documents were acknowledged.
func (s *MQTTSink) Published() uint64 { return s.published.Load() }
