// internal/publisher/mqtt/bridge_test.go
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// ---- paho mock ----

type mockMsg struct {
	topic   string
	payload []byte
	retain  bool
}

type mqttMock struct {
	opt *paho.ClientOptions
	pub chan mockMsg

	mu   sync.Mutex
	subs map[string]paho.MessageHandler
}

func newMqttMock() *mqttMock {
	return &mqttMock{pub: make(chan mockMsg, 32), subs: make(map[string]paho.MessageHandler)}
}

func (m *mqttMock) new(opt *paho.ClientOptions) paho.Client {
	m.opt = opt
	return m
}

// deliver plays a broker message into the subscribed handler.
func (m *mqttMock) deliver(t testing.TB, topic string, payload []byte) {
	m.mu.Lock()
	h := m.subs[topic]
	m.mu.Unlock()
	if h == nil {
		t.Fatalf("not subscribed for topic=%s", topic)
	}
	h(m, mockMessage{topic: topic, payload: payload})
}

func (m *mqttMock) next(t testing.TB, topic string) mockMsg {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-m.pub:
			if msg.topic == topic {
				return msg
			}
		case <-deadline:
			t.Fatalf("nothing published on %s", topic)
		}
	}
}

func (m *mqttMock) IsConnected() bool      { return true }
func (m *mqttMock) IsConnectionOpen() bool { return true }
func (m *mqttMock) Connect() paho.Token    { return mockToken{} }
func (m *mqttMock) Disconnect(uint)        {}

func (m *mqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) paho.Token {
	b, _ := payload.([]byte)
	m.pub <- mockMsg{topic: topic, payload: b, retain: retain}
	return mockToken{}
}

func (m *mqttMock) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	m.subs[topic] = h
	m.mu.Unlock()
	return mockToken{}
}

func (m *mqttMock) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	panic("not implemented")
}

func (m *mqttMock) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	for _, t := range topics {
		delete(m.subs, t)
	}
	m.mu.Unlock()
	return mockToken{}
}

func (m *mqttMock) AddRoute(string, paho.MessageHandler) { panic("not implemented") }

func (m *mqttMock) OptionsReader() paho.ClientOptionsReader { panic("not implemented") }

type mockToken struct{ err error }

func (tok mockToken) Wait() bool                     { return true }
func (tok mockToken) WaitTimeout(time.Duration) bool { return true }
func (tok mockToken) Error() error                   { return tok.err }

type mockMessage struct {
	topic   string
	payload []byte
}

func (msg mockMessage) Duplicate() bool   { return false }
func (msg mockMessage) Qos() byte         { return 1 }
func (msg mockMessage) Retained() bool    { return false }
func (msg mockMessage) Topic() string     { return msg.topic }
func (msg mockMessage) MessageID() uint16 { return 0 }
func (msg mockMessage) Payload() []byte   { return msg.payload }
func (msg mockMessage) Ack()              {}

// ---- fake setter ----

type fakeSetter struct {
	mu   sync.Mutex
	got  []uint32
	vals []float32
	err  error
}

func (f *fakeSetter) Set(ctx context.Context, id uint32, v float32, timeout time.Duration) (codec.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, id)
	f.vals = append(f.vals, v)
	if f.err != nil {
		return codec.Value{}, f.err
	}
	return codec.IntValue(int32(v)), nil
}

func newBridge(t *testing.T, setter Setter) (*Bridge, *mqttMock) {
	t.Helper()
	prof, err := command.LoadProfile(command.ProfileTSS2025)
	require.NoError(t, err)

	mock := newMqttMock()
	b := New(Config{
		Broker:      "tcp://broker:1883",
		ClientID:    "relay-test",
		TopicPrefix: "tss",
		QoS:         1,
		Retain:      true,
		Timeout:     time.Second,
		Commands:    true,
		Table:       prof.Table,
		Log:         logging.NewTest(t, logging.LDebug),
		NewClient:   mock.new,
	}, setter)
	require.NoError(t, b.Connect())
	require.NotNil(t, mock.opt)
	// paho calls this once the session is up
	b.onConnect(mock)
	assert.Equal(t, []byte{0x01}, mock.next(t, "tss/connected").payload)
	return b, mock
}

// ---- tests ----

func TestBridge_PublishTopic(t *testing.T) {
	b, mock := newBridge(t, &fakeSetter{})
	defer b.Close()

	rec := telemetry.NewRecord(telemetry.TypeHighFrequency, time.Now())
	rec.Fields["rover_posx"] = 2.0
	require.NoError(t, b.Publish(rec.Type, rec))

	msg := mock.next(t, "tss/high-frequency")
	assert.True(t, msg.retain)
	var env telemetry.Envelope
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.Equal(t, telemetry.TypeHighFrequency, env.Type)
	assert.True(t, env.Success)
}

func TestBridge_CommandRoundTrip(t *testing.T) {
	setter := &fakeSetter{}
	b, mock := newBridge(t, setter)
	defer b.Close()

	mock.deliver(t, "tss/command", []byte(`{"command":"uia_o2_vent","value":1,"request_id":"r7"}`))

	msg := mock.next(t, "tss/command/result")
	var env struct {
		Type    string `json:"type"`
		Success bool   `json:"success"`
		Data    struct {
			RequestID string  `json:"request_id"`
			Command   uint32  `json:"command"`
			Value     float64 `json:"value"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.True(t, env.Success)
	assert.Equal(t, "r7", env.Data.RequestID)
	assert.Equal(t, uint32(56), env.Data.Command)
	assert.Equal(t, 1.0, env.Data.Value)
	assert.False(t, msg.retain)

	setter.mu.Lock()
	assert.Equal(t, []uint32{56}, setter.got)
	setter.mu.Unlock()
}

func TestBridge_CommandErrors(t *testing.T) {
	setter := &fakeSetter{err: errors.Timeoutf("correlator: command 48 after 2s")}
	b, mock := newBridge(t, setter)
	defer b.Close()

	mock.deliver(t, "tss/command", []byte(`{"command":48,"value":1}`))
	var env telemetry.Envelope
	require.NoError(t, json.Unmarshal(mock.next(t, "tss/command/result").payload, &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, 504, env.Error.Code)

	mock.deliver(t, "tss/command", []byte(`{"value":1}`))
	env = telemetry.Envelope{}
	require.NoError(t, json.Unmarshal(mock.next(t, "tss/command/result").payload, &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, 400, env.Error.Code)
}

func TestBridge_CloseUnsubscribes(t *testing.T) {
	b, mock := newBridge(t, &fakeSetter{})
	b.Close()

	assert.Equal(t, []byte{0x00}, mock.next(t, "tss/connected").payload)
	mock.mu.Lock()
	_, subscribed := mock.subs["tss/command"]
	mock.mu.Unlock()
	assert.False(t, subscribed)
}
