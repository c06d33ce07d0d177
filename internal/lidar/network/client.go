package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config describes the broker connection and topic layout.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	PointsTopic string
	IMUTopic    string
	OdomTopic   string

	// PublishPrefix roots the output topics: <prefix>/pose, <prefix>/map
	// and <prefix>/diagnostics.
	PublishPrefix string
	QoS           byte
}

const (
	defaultClientID      = "ndt-mapping"
	defaultPublishPrefix = "ndt"

	connectTimeout   = 10 * time.Second
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
	maxRetryDelay    = 60 * time.Second
)

// ErrNoBroker is returned when no broker address is configured.
var ErrNoBroker = errors.New("network: no MQTT broker configured")

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = defaultClientID
	}
	if c.PublishPrefix == "" {
		c.PublishPrefix = defaultPublishPrefix
	}
	return c
}

// NewClient builds a paho client for cfg. onConnect runs after every
// (re)connection; subscriptions belong there so they survive reconnects.
func NewClient(cfg Config, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(maxRetryDelay)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	// Scans are handed off without blocking, so handlers may run
	// concurrently.
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		opsf("connection to %s lost (%v); auto-reconnect will retry", cfg.Broker, err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		diagf("reconnecting to %s", cfg.Broker)
	})

	return mqtt.NewClient(opts), nil
}

// Connect connects client, retrying with exponential backoff until it
// succeeds or ctx is done.
func Connect(ctx context.Context, client mqtt.Client) error {
	delay := time.Second
	for {
		token := client.Connect()
		if token.WaitTimeout(connectTimeout) {
			if token.Error() == nil {
				diagf("connected to MQTT broker")
				return nil
			}
			opsf("MQTT connection failed: %v", token.Error())
		} else {
			opsf("MQTT connection timeout")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// Disconnect closes client after letting in-flight work drain.
func Disconnect(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		diagf("disconnecting from MQTT broker")
		client.Disconnect(250)
	}
}
