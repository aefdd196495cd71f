package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"kiln_control/internal/logger"
	"kiln_control/internal/sensor"
	"kiln_control/internal/supervisor"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	reconnectInterval = 2 * time.Second
	publishTimeout    = 2 * time.Second
)

// MqttClient is the part of the paho client the bridge uses, serialised.
type MqttClient interface {
	SafePublish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	SafeSubscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	SafeUnsubscribe(topics ...string) mqtt.Token
	Disconnect()
}

type mqttClient struct {
	mutex sync.Mutex
	mqtt  mqtt.Client
}

// ConnectMQTT starts a client that keeps retrying in the background, so an
// absent broker never holds up the kiln.
func ConnectMQTT(url, clientID string, log *logger.Logger) MqttClient {
	log = logger.OrNop(log)
	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectInterval).
		SetMaxReconnectInterval(reconnectInterval)

	opts.OnConnect = func(c mqtt.Client) {
		or := c.OptionsReader()
		log.Infow("mqtt_connected", "servers", fmt.Sprint(or.Servers()), "client_id", or.ClientID())
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warnw("mqtt_connection_lost", "err", err)
	}

	client := mqtt.NewClient(opts)
	client.Connect()
	return &mqttClient{mqtt: client}
}

func (m *mqttClient) SafePublish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.mqtt.Publish(topic, qos, retained, payload)
}

func (m *mqttClient) SafeSubscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.mqtt.Subscribe(topic, qos, callback)
}

func (m *mqttClient) SafeUnsubscribe(topics ...string) mqtt.Token {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.mqtt.Unsubscribe(topics...)
}

func (m *mqttClient) Disconnect() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.mqtt.Disconnect(250)
}

// Commander is what remote commands are forwarded to.
type Commander interface {
	CalibrateIR(irC float64) error
	Stop() error
}

// StatePayload is the retained message on <prefix>/state.
type StatePayload struct {
	Status       string  `json:"status"`
	Curve        string  `json:"curve,omitempty"`
	SessionID    string  `json:"session_id,omitempty"`
	EstimateC    float64 `json:"estimate_c"`
	SetpointC    float64 `json:"setpoint_c"`
	Duty         float64 `json:"duty"`
	Stage        string  `json:"stage"`
	ElapsedSec   int64   `json:"elapsed_sec"`
	RemainingSec int64   `json:"remaining_sec"`
	Fault        string  `json:"fault,omitempty"`
	At           string  `json:"at"`
}

func statePayload(s supervisor.Snapshot) StatePayload {
	return StatePayload{
		Status:       string(s.Status),
		Curve:        s.Curve,
		SessionID:    s.SessionID,
		EstimateC:    s.Estimate,
		SetpointC:    s.Setpoint,
		Duty:         s.Duty,
		Stage:        s.Stage,
		ElapsedSec:   int64(s.Elapsed / time.Second),
		RemainingSec: int64(s.Remaining / time.Second),
		Fault:        s.Fault,
		At:           s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// EventPayload is published on <prefix>/event.
type EventPayload struct {
	Type        string         `json:"type"`
	At          string         `json:"at"`
	SessionID   string         `json:"session_id,omitempty"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Bridge mirrors bus traffic to MQTT and accepts remote commands on
// <prefix>/cmd/calibrate (IR reading in °C) and <prefix>/cmd/stop.
type Bridge struct {
	client MqttClient
	bus    *Bus
	cmd    Commander
	prefix string
	log    *logger.Logger
}

func NewBridge(client MqttClient, bus *Bus, cmd Commander, prefix string, log *logger.Logger) *Bridge {
	return &Bridge{
		client: client,
		bus:    bus,
		cmd:    cmd,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    logger.OrNop(log),
	}
}

func (b *Bridge) topic(name string) string { return b.prefix + "/" + name }

// Run forwards until ctx ends.
func (b *Bridge) Run(ctx context.Context) {
	states, unsubState := b.bus.Subscribe(ctx, TopicState, true)
	defer unsubState()
	events, unsubEvents := b.bus.SubscribeQueue(ctx, TopicEvent, 64)
	defer unsubEvents()
	power, unsubPower := b.bus.Subscribe(ctx, TopicPower, false)
	defer unsubPower()

	if b.cmd != nil {
		b.client.SafeSubscribe(b.topic("cmd/calibrate"), 1, b.handleCalibrate)
		b.client.SafeSubscribe(b.topic("cmd/stop"), 1, b.handleStop)
		defer b.client.SafeUnsubscribe(b.topic("cmd/calibrate"), b.topic("cmd/stop"))
	}

	b.log.Infow("mqtt_bridge_started", "prefix", b.prefix)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-states:
			if !ok {
				return
			}
			if snap, ok := ev.(supervisor.Snapshot); ok {
				b.publish("state", true, statePayload(snap))
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if e, ok := ev.(supervisor.Event); ok {
				b.publish("event", false, EventPayload{
					Type:        e.Type,
					At:          e.At.UTC().Format(time.RFC3339),
					SessionID:   e.SessionID,
					Description: e.Description,
					Metadata:    e.Metadata,
				})
			}
		case ev, ok := <-power:
			if !ok {
				return
			}
			if r, ok := ev.(sensor.PowerReading); ok {
				b.publish("power", true, r)
			}
		}
	}
}

func (b *Bridge) publish(name string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Errorw("mqtt_encode_failed", "topic", name, "err", err)
		return
	}
	tok := b.client.SafePublish(b.topic(name), 0, retained, payload)
	if tok.WaitTimeout(publishTimeout) && tok.Error() != nil {
		b.log.Warnw("mqtt_publish_failed", "topic", name, "err", tok.Error())
	}
}

// ParseCalibration accepts "850", "850.5" or {"ir_c": 850}.
func ParseCalibration(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var body struct {
			IRC *float64 `json:"ir_c"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil {
			return 0, fmt.Errorf("calibration payload: %w", err)
		}
		if body.IRC == nil {
			return 0, errors.New("calibration payload: ir_c is required")
		}
		return *body.IRC, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("calibration payload: %w", err)
	}
	return v, nil
}

func (b *Bridge) handleCalibrate(_ mqtt.Client, msg mqtt.Message) {
	v, err := ParseCalibration(msg.Payload())
	if err != nil {
		b.log.Warnw("mqtt_command_rejected", "topic", msg.Topic(), "err", err)
		return
	}
	if err := b.cmd.CalibrateIR(v); err != nil {
		b.log.Warnw("mqtt_command_failed", "topic", msg.Topic(), "err", err)
		return
	}
	b.log.Infow("mqtt_calibrate", "ir_c", v)
}

func (b *Bridge) handleStop(_ mqtt.Client, msg mqtt.Message) {
	if err := b.cmd.Stop(); err != nil {
		b.log.Warnw("mqtt_command_failed", "topic", msg.Topic(), "err", err)
		return
	}
	b.log.Infow("mqtt_stop")
}
