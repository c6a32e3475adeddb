// internal/publisher/mqtt/bridge.go
// Package mqtt republishes telemetry to an MQTT broker and accepts set
// commands from it.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/correlator"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// Setter forwards a set command to the TSS.
type Setter interface {
	Set(ctx context.Context, id uint32, v float32, timeout time.Duration) (codec.Value, error)
}

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	Timeout     time.Duration

	// Commands enables the <prefix>/command subscription.
	Commands bool
	Table    *command.Table

	Log *logging.Log

	// NewClient replaces paho.NewClient in tests.
	NewClient func(*paho.ClientOptions) paho.Client
}

const resultType = "command_result"

// Bridge is a publisher.Publisher.
type Bridge struct {
	cfg    Config
	log    *logging.Log
	setter Setter
	m      paho.Client
	alive  *alive.Alive

	topicConnect string
	topicCommand string
	topicResult  string
}

func New(cfg Config, setter Setter) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.NewClient == nil {
		cfg.NewClient = paho.NewClient
	}
	return &Bridge{
		cfg:          cfg,
		log:          cfg.Log,
		setter:       setter,
		alive:        alive.NewAlive(),
		topicConnect: cfg.TopicPrefix + "/connected",
		topicCommand: cfg.TopicPrefix + "/command",
		topicResult:  cfg.TopicPrefix + "/command/result",
	}
}

// Connect dials the broker once. Later losses are handled by paho's
// auto-reconnect; the command subscription is restored on every connect.
func (b *Bridge) Connect() error {
	if b.log != nil {
		paho.ERROR = b.log
		paho.CRITICAL = b.log
		paho.WARN = b.log
	}

	opt := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetBinaryWill(b.topicConnect, []byte{0x00}, 1, true).
		SetAutoReconnect(true).
		SetConnectTimeout(b.cfg.Timeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)
	b.m = b.cfg.NewClient(opt)

	tok := b.m.Connect()
	if !tok.WaitTimeout(b.cfg.Timeout) {
		return errors.Timeoutf("mqtt: connect %s", b.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return errors.Annotatef(err, "mqtt: connect %s", b.cfg.Broker)
	}
	return nil
}

func (b *Bridge) onConnect(c paho.Client) {
	b.log.Infof("mqtt: connected to %s", b.cfg.Broker)
	c.Publish(b.topicConnect, 1, true, []byte{0x01})
	if !b.cfg.Commands {
		return
	}
	tok := c.Subscribe(b.topicCommand, 1, b.onCommand)
	if tok.WaitTimeout(b.cfg.Timeout) && tok.Error() != nil {
		b.log.Errorf("mqtt: subscribe %s: %v", b.topicCommand, tok.Error())
	}
}

func (b *Bridge) onConnectionLost(c paho.Client, err error) {
	b.log.Errorf("mqtt: connection lost: %v", err)
}

// Publish sends rec to <prefix>/<recordType>.
func (b *Bridge) Publish(recordType string, rec telemetry.Record) error {
	payload, err := telemetry.Marshal(rec)
	if err != nil {
		return errors.Annotatef(err, "mqtt: marshal %s", recordType)
	}
	return b.send(b.cfg.TopicPrefix+"/"+recordType, b.cfg.Retain, payload)
}

func (b *Bridge) send(topic string, retain bool, payload []byte) error {
	if b.m == nil {
		return errors.New("mqtt: not connected")
	}
	tok := b.m.Publish(topic, b.cfg.QoS, retain, payload)
	if !tok.WaitTimeout(b.cfg.Timeout) {
		return errors.Timeoutf("mqtt: publish %s", topic)
	}
	return errors.Annotatef(tok.Error(), "mqtt: publish %s", topic)
}

// onCommand runs on paho's router goroutine, which must not wait on
// tokens; the command is handled on its own goroutine.
func (b *Bridge) onCommand(c paho.Client, msg paho.Message) {
	payload := msg.Payload()
	b.log.Debugf("mqtt: command %s", payload)

	if !b.alive.Add(1) {
		return
	}
	go func() {
		defer b.alive.Done()
		b.handleCommand(payload)
	}()
}

func (b *Bridge) handleCommand(payload []byte) {
	req, err := command.ParseSetRequest(payload, b.cfg.Table)
	if err != nil {
		b.reply(command.SetResult{}, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	v, err := b.setter.Set(ctx, req.ID, req.Value, req.Timeout)
	res := command.SetResult{RequestID: req.RequestID, Command: req.ID}
	if err == nil {
		res.Value = v.Interface()
	}
	b.reply(res, err)
}

// reply publishes res on <prefix>/command/result inside an envelope.
func (b *Bridge) reply(res command.SetResult, err error) {
	env := telemetry.Envelope{Type: resultType, Data: res, Success: err == nil}
	if err != nil {
		env.Error = &telemetry.EnvelopeError{Message: err.Error(), Code: correlator.StatusCode(err)}
		b.log.Errorf("mqtt: command %d: %v", res.Command, err)
	}
	payload, merr := json.Marshal(env)
	if merr != nil {
		b.log.Errorf("mqtt: %v", merr)
		return
	}
	if err := b.send(b.topicResult, false, payload); err != nil {
		b.log.Errorf("%v", err)
	}
}

// Close waits for in-flight commands and disconnects.
func (b *Bridge) Close() {
	b.alive.Stop()
	b.alive.Wait()
	if b.m == nil {
		return
	}
	if b.cfg.Commands {
		b.m.Unsubscribe(b.topicCommand).WaitTimeout(b.cfg.Timeout)
	}
	b.m.Publish(b.topicConnect, 1, true, []byte{0x00}).WaitTimeout(b.cfg.Timeout)
	b.m.Disconnect(uint(b.cfg.Timeout / time.Millisecond))
}
