// Package mqtt publishes printer lifecycle events to an MQTT broker.
//
// Topics are laid out as:
//
//	<prefix>/status                          online/offline (retained, LWT)
//	<prefix>/printers/<address>/events/<kind> one JSON event per message
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/metrics"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultTopicPrefix       = "printguard"
	maxQoS                   = 2
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// Config holds broker connection settings.
type Config struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	ClientID    string        `yaml:"client_id"`
	TLS         bool          `yaml:"tls"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	QoS         int           `yaml:"qos"`
	TopicPrefix string        `yaml:"topic_prefix"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	MaxRetry    time.Duration `yaml:"max_retry_delay"`
}

// client is the subset of pahomqtt.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher implements the service event sink on MQTT.
type Publisher struct {
	client   client
	prefix   string
	clientID string
	qos      byte
	log      *slog.Logger
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.RetryDelay > 0 {
		opts.SetConnectRetryInterval(cfg.RetryDelay)
	}
	if cfg.MaxRetry > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxRetry)
	}
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Broker marks us offline if we drop without a clean disconnect.
	opts.SetWill(statusTopic(prefixOf(cfg)), statusPayload(cfg.ClientID, "offline", "unexpected_disconnect"), 1, true)
	return opts
}

// Connect dials the broker and announces the publisher online.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "printguard"
	}

	log := slog.Default().With("component", "mqtt")
	opts := buildClientOptions(cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("MQTT connection lost", "error", err)
	})

	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newPublisher(c, cfg)
	p.log = log
	p.announce("online", "")
	return p, nil
}

func newPublisher(c client, cfg Config) *Publisher {
	return &Publisher{
		client:   c,
		prefix:   prefixOf(cfg),
		clientID: cfg.ClientID,
		qos:      byte(cfg.QoS),
		log:      slog.Default().With("component", "mqtt"),
	}
}

func prefixOf(cfg Config) string {
	if cfg.TopicPrefix == "" {
		return defaultTopicPrefix
	}
	return strings.TrimSuffix(cfg.TopicPrefix, "/")
}

// Publish sends ev as JSON, waiting for the broker ack or ctx.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	if !p.client.IsConnected() {
		metrics.EventsPublished.WithLabelValues("mqtt", "failure").Inc()
		return ErrNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	if err := p.send(ctx, EventTopic(p.prefix, ev.Address, ev.Kind), payload, false); err != nil {
		metrics.EventsPublished.WithLabelValues("mqtt", "failure").Inc()
		return err
	}
	metrics.EventsPublished.WithLabelValues("mqtt", "success").Inc()
	return nil
}

func (p *Publisher) send(ctx context.Context, topic string, payload []byte, retained bool) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
	}

	token := p.client.Publish(topic, p.qos, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
}

func (p *Publisher) announce(status, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	payload := statusPayload(p.clientID, status, reason)
	if err := p.send(ctx, statusTopic(p.prefix), []byte(payload), true); err != nil {
		p.log.Warn("Failed to publish status", "status", status, "error", err)
	}
}

// Close announces a graceful shutdown and disconnects.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.announce("offline", "graceful_shutdown")
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// EventTopic returns the topic an event for address is published on.
func EventTopic(prefix, address string, kind domain.EventKind) string {
	return fmt.Sprintf("%s/printers/%s/events/%s", prefix, topicSegment(address), kind)
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// topicSegment makes address safe as one topic level.
func topicSegment(s string) string {
	if s == "" {
		return "_"
	}
	return segmentReplacer.Replace(s)
}

type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) string {
	data, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(data)
}
