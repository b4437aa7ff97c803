// Package mqtt publishes attendance events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// EventAttendance is the type of the event sent for every recorded attendance.
const EventAttendance = "attendance.recorded"

// Event is the JSON payload published for a recorded attendance.
type Event struct {
	Type         string    `json:"type"`
	AttendanceID int64     `json:"attendance_id"`
	IdentityID   int64     `json:"identity_id"`
	IdentityName string    `json:"identity_name"`
	GroupID      *int64    `json:"group_id,omitempty"`
	Confidence   float64   `json:"confidence"`
	Method       string    `json:"method"`
	Mode         string    `json:"mode"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Publisher sends attendance events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close()                               {}

// Client publishes events through a paho client.
type Client struct {
	cfg    config.MQTTConfig
	client paho.Client
	log    logrus.FieldLogger
}

// New connects to the configured broker, or returns Noop when MQTT is disabled.
func New(cfg config.MQTTConfig, log logrus.FieldLogger) (Publisher, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if !cfg.Enabled() {
		log.Info("MQTT broker not configured, attendance events are not published")
		return Noop{}, nil
	}

	c := &Client{cfg: cfg, log: log.WithField("broker", cfg.Broker)}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		c.log.Info("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(10 * time.Second)

	c.client = paho.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	return c, nil
}

// newWithClient wraps an existing paho client.
func newWithClient(cfg config.MQTTConfig, client paho.Client, log logrus.FieldLogger) *Client {
	return &Client{cfg: cfg, client: client, log: log}
}

// Publish sends ev to the configured topic and waits for the broker to
// acknowledge it according to the QoS level, or for ctx to end.
func (c *Client) Publish(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		ev.Type = EventAttendance
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if !c.client.IsConnected() {
		return fmt.Errorf("publish to %s: not connected", c.cfg.Topic)
	}

	token := c.client.Publish(c.cfg.Topic, byte(c.cfg.QoS), false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", c.cfg.Topic, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", c.cfg.Topic, ctx.Err())
	}

	c.log.WithFields(logrus.Fields{
		"topic":         c.cfg.Topic,
		"attendance_id": ev.AttendanceID,
	}).Debug("Published attendance event")
	return nil
}

// Close disconnects from the broker, allowing in-flight messages 250ms.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
