package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/types"
)

// LabelMessage announces the label of the price in effect for a zone so
// devices on the kiosk's network can react without polling the API.
type LabelMessage struct {
	Zone      string             `json:"zone"`
	Timestamp time.Time          `json:"timestamp"`
	Price     float64            `json:"price"`
	Label     types.Label        `json:"label"`
	Window    *types.PriceWindow `json:"window,omitempty"`
}

// Publisher sends label updates.
type Publisher interface {
	PublishLabel(ctx context.Context, msg LabelMessage) error
}

// Noop drops every message.
type Noop struct{}

// PublishLabel implements Publisher.
func (Noop) PublishLabel(ctx context.Context, msg LabelMessage) error {
	return nil
}

// MQTT publishes retained label messages to a topic per zone.
type MQTT struct {
	// topic may contain {zone}
	topic   string
	qos     byte
	timeout time.Duration

	mu      sync.Mutex
	client  mqtt.Client
	connect func() (mqtt.Client, error)
}

// NewMQTT publishes with an already configured client.
func NewMQTT(client mqtt.Client, topic string) *MQTT {
	return &MQTT{
		topic:   topic,
		qos:     1,
		timeout: 10 * time.Second,
		client:  client,
	}
}

// Configured returns an MQTT publisher when mqtt-broker is set and a Noop
// otherwise. The broker connection is made on first publish.
func Configured() Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL for label updates (e.g. tcp://localhost:1883), empty disables")
	clientID := lflag.String("mqtt-client-id", "wattwindow", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topic := lflag.String("mqtt-topic", "wattwindow/{zone}/label", "MQTT topic for label updates, {zone} is replaced with the zone")

	var p struct{ Publisher }
	p.Publisher = Noop{}

	lflag.Do(func() {
		if *broker == "" {
			return
		}
		m := NewMQTT(nil, *topic)
		m.connect = func() (mqtt.Client, error) {
			opts := mqtt.NewClientOptions()
			opts.AddBroker(*broker)
			opts.SetClientID(*clientID)
			opts.SetUsername(*username)
			opts.SetPassword(*password)
			opts.SetAutoReconnect(true)
			opts.SetKeepAlive(60 * time.Second)
			opts.SetPingTimeout(10 * time.Second)
			opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
				log.Ctx(context.Background()).Warn("mqtt connection lost", slog.Any("error", err))
			})

			client := mqtt.NewClient(opts)
			token := client.Connect()
			if !token.WaitTimeout(m.timeout) {
				return nil, fmt.Errorf("timed out connecting to mqtt broker %s", *broker)
			}
			if err := token.Error(); err != nil {
				return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", *broker, err)
			}
			return client, nil
		}
		p.Publisher = m
	})

	return &p
}

func (m *MQTT) getClient() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	if m.connect == nil {
		return nil, fmt.Errorf("mqtt client not configured")
	}
	client, err := m.connect()
	if err != nil {
		return nil, err
	}
	m.client = client
	return client, nil
}

func (m *MQTT) topicFor(zone string) string {
	return strings.ReplaceAll(m.topic, "{zone}", zone)
}

// PublishLabel implements Publisher. Messages are retained so a device that
// subscribes later gets the latest label immediately.
func (m *MQTT) PublishLabel(ctx context.Context, msg LabelMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal label message: %w", err)
	}
	client, err := m.getClient()
	if err != nil {
		return err
	}

	topic := m.topicFor(msg.Zone)
	token := client.Publish(topic, m.qos, true, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "published label", slog.String("topic", topic), slog.String("label", string(msg.Label)))
	return nil
}
