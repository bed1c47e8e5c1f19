package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"driveguard/internal/events"
)

// MQTTConfig configures the MQTT forwarder
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// DriverState is the retained summary published on <prefix>/state
type DriverState struct {
	State   string    `json:"state"` // awake, drowsy or absent
	Since   time.Time `json:"since"`
	EventID string    `json:"event_id"`
}

// stateFor maps an event to the driver state it leaves behind
func stateFor(kind events.Kind) (string, bool) {
	switch kind {
	case events.KindDrowsiness:
		return "drowsy", true
	case events.KindDriverAbsence:
		return "absent", true
	case events.KindAlert, events.KindDriverPresence:
		return "awake", true
	}
	return "", false
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes each event on <prefix>/events and keeps a retained
// driver state on <prefix>/state.
type MQTTPublisher struct {
	client  mqttPublisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// DialMQTT connects to the broker with auto-reconnect enabled
func DialMQTT(cfg MQTTConfig, logger *zap.SugaredLogger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if logger != nil {
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("mqtt connection lost", "error", err)
		})
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

// NewMQTTPublisher wraps a connected client
func NewMQTTPublisher(client mqttPublisher, cfg MQTTConfig, logger *zap.SugaredLogger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "driveguard"
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// OnEvent implements events.Handler
func (p *MQTTPublisher) OnEvent(ev events.Event) {
	payload, err := json.Marshal(ev.Record())
	if err != nil {
		p.logger.Errorw("failed to encode event", "event_id", ev.ID, "error", err)
		return
	}
	p.publish(p.prefix+"/events", false, payload)

	state, ok := stateFor(ev.Kind)
	if !ok {
		return
	}
	payload, err = json.Marshal(DriverState{State: state, Since: ev.OccurredAt, EventID: ev.ID})
	if err != nil {
		return
	}
	p.publish(p.prefix+"/state", true, payload)
}

func (p *MQTTPublisher) publish(topic string, retained bool, payload []byte) {
	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		p.logger.Warnw("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warnw("mqtt publish failed", "topic", topic, "error", err)
	}
}
