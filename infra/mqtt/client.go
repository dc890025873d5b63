// Package mqtt carries telemetry and backend notifications over an MQTT
// broker using Eclipse Paho.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/dispatchsync/core/monitoring"
	"github.com/kilianp07/dispatchsync/infra/logger"
)

// ErrNotConnected is returned when an operation needs a live broker session.
var ErrNotConnected = errors.New("mqtt: not connected")

// QoS keys understood in Config.QoS.
const (
	QoSTelemetry    = "telemetry"
	QoSNotification = "notification"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	AuthMethod string          `json:"auth_method"`
	QoS        map[string]byte `json:"qos"`
	// TelemetryPrefix is the topic root; vehicle samples live on <prefix>/<vehicleID>.
	TelemetryPrefix   string      `json:"telemetry_prefix"`
	NotificationTopic string      `json:"notification_topic"`
	LWTTopic          string      `json:"lwt_topic"`
	LWTPayload        string      `json:"lwt_payload"`
	LWTQoS            byte        `json:"lwt_qos"`
	LWTRetain         bool        `json:"lwt_retain"`
	MaxRetries        int         `json:"max_retries"`
	BackoffMS         int         `json:"backoff_ms"`
	TLSConfig         *tls.Config `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "dispatchsync-" + uuid.NewString()[:8]
	}
	if c.TelemetryPrefix == "" {
		c.TelemetryPrefix = "vehicles"
	}
	if c.NotificationTopic == "" {
		c.NotificationTopic = "notifications"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt: broker is required")
	}
	switch c.AuthMethod {
	case "", "username_password", "certificate", "both":
	default:
		return fmt.Errorf("mqtt: unknown auth_method %q", c.AuthMethod)
	}
	for k, q := range c.QoS {
		if q > 2 {
			return fmt.Errorf("mqtt: qos %s must be 0, 1 or 2", k)
		}
	}
	return nil
}

func (c Config) qos(kind string) byte {
	if q, ok := c.QoS[kind]; ok {
		return q
	}
	return 0
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Client is a broker session shared by the telemetry source, the telemetry
// writer and the notification subscriber.
type Client struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger

	mu     sync.Mutex
	topics map[string]*topicSubs
	notify *notificationSub
}

// Connect opens a session to cfg.Broker.
func Connect(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New("mqtt_client")
	}
	c := &Client{cfg: cfg, logger: log, topics: make(map[string]*topicSubs)}

	opts.OnConnect = func(paho.Client) {
		c.logger.Infof("MQTT connected to %s", cfg.Broker)
		c.resubscribeNotifications()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.logger.Warnf("connection lost: %v", err)
		c.dropTelemetry()
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		c.logger.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	c.cli = cli
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetOrderMatters(false)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS || cfg.AuthMethod == "certificate" || cfg.AuthMethod == "both" {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificates", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// publish sends payload with bounded exponential retries. The final failure
// is reported to the error monitor.
func (c *Client) publish(ctx context.Context, topic string, qos byte, payload []byte, tags map[string]string) error {
	backoff := time.Duration(c.cfg.BackoffMS) * time.Millisecond
	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		token := c.cli.Publish(topic, qos, false, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			return nil
		}
		c.logger.Errorf("publish to %s attempt %d failed: %v", topic, attempt+1, err)
		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(1<<attempt)):
		}
	}
	tags["module"] = "mqtt"
	tags["topic"] = topic
	monitoring.Current().CaptureException(err, tags)
	return fmt.Errorf("publish to %s: %w", topic, err)
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
	c.dropTelemetry()
	c.mu.Lock()
	if c.notify != nil {
		c.notify.cancel()
		c.notify = nil
	}
	c.mu.Unlock()
}
