package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/config"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, finished bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if finished {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient implements the methods Client uses; the embedded interface
// panics if anything else is called.
type fakeClient struct {
	paho.Client
	connected    bool
	token        *fakeToken
	topic        string
	qos          byte
	payload      []byte
	disconnected bool
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	f.topic = topic
	f.qos = qos
	f.payload = payload.([]byte)
	return f.token
}

func (f *fakeClient) Disconnect(quiesce uint) { f.disconnected = true }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewDisabled(t *testing.T) {
	p, err := New(config.MQTTConfig{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(Noop); !ok {
		t.Fatalf("New without broker = %T, want Noop", p)
	}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Errorf("Noop.Publish: %v", err)
	}
	p.Close()
}

func TestClientPublish(t *testing.T) {
	groupID := int64(3)
	recordedAt := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	ev := Event{AttendanceID: 10, IdentityID: 7, IdentityName: "Alice", GroupID: &groupID, Confidence: 81.5, Method: "BOTH_AGREE", Mode: "smart", RecordedAt: recordedAt}

	fc := &fakeClient{connected: true, token: newFakeToken(nil, true)}
	c := newWithClient(config.MQTTConfig{Topic: "attendance/events", QoS: 1}, fc, quietLogger())

	if err := c.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if fc.topic != "attendance/events" || fc.qos != 1 {
		t.Errorf("published to %q qos %d", fc.topic, fc.qos)
	}

	var got Event
	if err := json.Unmarshal(fc.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Type != EventAttendance || got.IdentityName != "Alice" || got.GroupID == nil || *got.GroupID != 3 || !got.RecordedAt.Equal(recordedAt) {
		t.Errorf("unexpected payload: %+v", got)
	}

	c.Close()
	if !fc.disconnected {
		t.Error("Close should disconnect a connected client")
	}
}

func TestClientPublishErrors(t *testing.T) {
	brokerErr := errors.New("broker rejected")

	tests := []struct {
		name    string
		client  *fakeClient
		ctx     func() context.Context
		wantErr error
	}{
		{
			name:   "not connected",
			client: &fakeClient{connected: false},
			ctx:    context.Background,
		},
		{
			name:    "token error",
			client:  &fakeClient{connected: true, token: newFakeToken(brokerErr, true)},
			ctx:     context.Background,
			wantErr: brokerErr,
		},
		{
			name:   "context cancelled",
			client: &fakeClient{connected: true, token: newFakeToken(nil, false)},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newWithClient(config.MQTTConfig{Topic: "t"}, tt.client, quietLogger())
			err := c.Publish(tt.ctx(), Event{IdentityID: 1})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
