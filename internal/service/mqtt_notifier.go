package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"parkwatch/internal/config"
	"parkwatch/internal/logging"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttKeepAlive      = 60 * time.Second
	mqttQuiesce        = 250 // milliseconds
)

var errPublishTimeout = errors.New("mqtt publish timed out")

// Publisher is the part of the paho client used for notifications.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

type mqttPayload struct {
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// MQTTNotifier publishes notifications to <prefix>/<recipient>.
type MQTTNotifier struct {
	client Publisher
	prefix string
	qos    byte
	now    func() time.Time
	log    *logging.Logger
}

// ConnectMQTTNotifier connects to the configured broker.
func ConnectMQTTNotifier(cfg config.MQTTConfig, log *logging.Logger) (*MQTTNotifier, pahomqtt.Client, error) {
	client := pahomqtt.NewClient(mqttOptions(cfg, log))
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, nil, fmt.Errorf("connecting to %s: timeout after %v", cfg.Broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	return NewMQTTNotifier(client, cfg.TopicPrefix, byte(cfg.QoS), log), client, nil
}

func NewMQTTNotifier(client Publisher, prefix string, qos byte, log *logging.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		prefix: prefix,
		qos:    qos,
		now:    time.Now,
		log:    log.With("component", "notify", "channel", ChannelMQTT),
	}
}

func (n *MQTTNotifier) Deliver(ctx context.Context, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(mqttPayload{Recipient: recipient, Text: text, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding mqtt payload: %w", err)
	}

	topic := n.prefix + "/" + recipient
	token := n.client.Publish(topic, n.qos, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("%w: %s", errPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	n.log.Debug("mqtt notification published", "topic", topic)
	return nil
}

// DisconnectMQTT closes client, letting pending publishes finish.
func DisconnectMQTT(client pahomqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(mqttQuiesce)
	}
}

func mqttOptions(cfg config.MQTTConfig, log *logging.Logger) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})
	return opts
}
