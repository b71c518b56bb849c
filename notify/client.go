package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/slcjordan/demoreel/logger"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

var ErrConnectionFailed = errors.New("mqtt connection failed")

type Options struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	Prefix   string
	// RunID scopes every topic. The broker publishes an aborted status for
	// it if the connection drops without Close.
	RunID string
}

// Client publishes to one broker. Event publishes are fire and forget;
// retained status publishes wait for the broker.
type Client struct {
	client pahomqtt.Client
	qos    byte
	ctx    context.Context
}

func buildClientOptions(opts Options) *pahomqtt.ClientOptions {
	o := pahomqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectTimeout(defaultConnectTimeout)
	o.SetKeepAlive(defaultKeepAlive)
	if opts.RunID != "" {
		o.SetWill(StatusTopic(opts.Prefix, opts.RunID), string(statusPayload(StatusAborted, nil, time.Now())), opts.QoS, true)
	}
	return o
}

func Connect(ctx context.Context, opts Options) (*Client, error) {
	ctx = logger.WithValue(ctx, "broker", opts.Broker)
	o := buildClientOptions(opts)
	o.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warnf(ctx, "mqtt connection lost: %s", err)
	})

	c := pahomqtt.NewClient(o)
	token := c.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	logger.Infof(ctx, "mqtt connected")
	return &Client{client: c, qos: opts.QoS, ctx: ctx}, nil
}

func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, c.qos, retained, payload)
	if !retained {
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Warnf(c.ctx, "publish %s: %s", topic, err)
			}
		}()
		return nil
	}
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("publish %s: timeout after %v", topic, defaultPublishTimeout)
	}
	return token.Error()
}

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
