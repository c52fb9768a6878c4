package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	subscribeQoS = 1
	publishQoS   = 1

	disconnectQuiesceMs = 250
	messageBuffer       = 256
)

var errTokenTimeout = errors.New("mqtt operation timed out")

// clientOptions translates a broker URL (mqtt, tcp, ssl, tls, ws, wss) into
// paho options. Credentials are taken from the URL user info.
func clientOptions(brokerURL, clientID string) (*mqtt.ClientOptions, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("broker url %q has no host", brokerURL)
	}

	var server string
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + u.Host
	case "ssl", "tls":
		server = "ssl://" + u.Host
	case "ws", "wss":
		server = u.Scheme + "://" + u.Host + u.Path
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts, nil
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errTokenTimeout
	}
}

// MQTTConnector dials a fresh, non-reconnecting paho client per Loop run.
// Reconnect policy belongs to the Loop.
type MQTTConnector struct {
	brokerURL string
	clientID  string
	timeout   time.Duration
}

func NewMQTTConnector(brokerURL, clientID string, timeout time.Duration) *MQTTConnector {
	return &MQTTConnector{brokerURL: brokerURL, clientID: clientID, timeout: timeout}
}

func (c *MQTTConnector) Dial(ctx context.Context) (Conn, error) {
	// A unique id per dial keeps a lingering previous session from kicking
	// this one off the broker.
	opts, err := clientOptions(c.brokerURL, c.clientID+"-rx-"+uuid.NewString()[:8])
	if err != nil {
		return nil, err
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	conn := &mqttConn{
		messages: make(chan Message, messageBuffer),
		done:     make(chan struct{}),
		timeout:  c.timeout,
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", c.brokerURL).Msg("mqtt connection lost")
		conn.fail(err)
	}

	cli := mqtt.NewClient(opts)
	if err := waitToken(ctx, cli.Connect(), c.timeout); err != nil {
		cli.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", c.brokerURL, err)
	}
	conn.cli = cli

	log.Info().Str("broker", c.brokerURL).Msg("mqtt connected")
	return conn, nil
}

type mqttConn struct {
	cli      mqtt.Client
	messages chan Message
	done     chan struct{}
	timeout  time.Duration

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (c *mqttConn) Subscribe(ctx context.Context, topic string) error {
	tok := c.cli.Subscribe(topic, subscribeQoS, func(_ mqtt.Client, m mqtt.Message) {
		c.deliver(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if err := waitToken(ctx, tok, c.timeout); err != nil {
		return err
	}
	log.Info().Str("topic", topic).Msg("mqtt subscribed")
	return nil
}

func (c *mqttConn) deliver(msg Message) {
	select {
	case c.messages <- msg:
	case <-c.done:
	}
}

func (c *mqttConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *mqttConn) Messages() <-chan Message { return c.messages }

func (c *mqttConn) Done() <-chan struct{} { return c.done }

func (c *mqttConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *mqttConn) Close() error {
	c.fail(nil)
	c.cli.Disconnect(disconnectQuiesceMs)
	return nil
}

// MQTTPublisher is a long-lived, auto-reconnecting client used for outbound
// messages.
type MQTTPublisher struct {
	cli     mqtt.Client
	timeout time.Duration
}

func NewMQTTPublisher(brokerURL, clientID string, timeout time.Duration) (*MQTTPublisher, error) {
	opts, err := clientOptions(brokerURL, clientID+"-tx-"+uuid.NewString()[:8])
	if err != nil {
		return nil, err
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(DefaultReconnectInterval)
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Str("broker", brokerURL).Msg("mqtt publisher connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", brokerURL).Msg("mqtt publisher connection lost")
	}

	cli := mqtt.NewClient(opts)
	// With connect retry enabled the token only completes once connected;
	// the client keeps retrying in the background either way.
	if tok := cli.Connect(); !tok.WaitTimeout(timeout) {
		log.Warn().Str("broker", brokerURL).Msg("mqtt publisher not connected yet, retrying in background")
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", brokerURL, err)
	}

	return &MQTTPublisher{cli: cli, timeout: timeout}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := waitToken(ctx, p.cli.Publish(topic, publishQoS, false, payload), p.timeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	log.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("mqtt published")
	return nil
}

func (p *MQTTPublisher) Close() {
	p.cli.Disconnect(disconnectQuiesceMs)
}
