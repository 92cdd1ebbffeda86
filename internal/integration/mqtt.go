package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analytics/internal/analytics"
	"github.com/lorawan-server/lorawan-analytics/internal/config"
)

const (
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

var ErrPublishTimeout = errors.New("mqtt publish timeout")

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// BundleMessage is the payload published for each computed bundle.
type BundleMessage struct {
	DevEUI     string            `json:"devEui"`
	ComputedAt time.Time         `json:"computedAt"`
	Bundle     *analytics.Bundle `json:"bundle"`
}

// MQTTPublisher publishes bundles to <prefix>/<devEui>/metrics.
type MQTTPublisher struct {
	client mqttClient
	prefix string
	qos    byte
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if err := connect(client, cfg.Broker, connectTimeout); err != nil {
		return nil, err
	}

	return newPublisher(client, cfg.TopicPrefix, cfg.QoS), nil
}

type mqttConnector interface {
	mqttClient
	Connect() mqtt.Token
}

// connect waits for the first connection. On failure the client is
// disconnected so its retry loop stops.
func connect(client mqttConnector, broker string, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("connect to MQTT broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("connect to MQTT broker %s: %w", broker, err)
	}
	return nil
}

func newPublisher(client mqttClient, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimRight(prefix, "/"), qos: qos}
}

// TopicFor returns the topic bundles of devEUI are published to.
func (p *MQTTPublisher) TopicFor(devEUI string) string {
	return topicFor(p.prefix, devEUI)
}

func topicFor(prefix, devEUI string) string {
	return fmt.Sprintf("%s/%s/metrics", prefix, strings.ToLower(devEUI))
}

// PublishBundle publishes b for devEUI and waits for the broker to accept it.
func (p *MQTTPublisher) PublishBundle(devEUI string, b *analytics.Bundle) error {
	payload, err := json.Marshal(BundleMessage{DevEUI: devEUI, ComputedAt: time.Now().UTC(), Bundle: b})
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	topic := p.TopicFor(devEUI)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	log.Debug().
		Str("devEUI", devEUI).
		Str("topic", topic).
		Int("bytes", len(payload)).
		Msg("Bundle published to MQTT")
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	log.Info().Msg("MQTT client disconnected")
}
