package kyusub

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for connecting to a broker and consuming
// from one destination.
type Config struct {
	// Provider specifies which transport to use.
	Provider Provider `mapstructure:"provider"`

	// ConnectionString is the full connection URI, e.g. amqp://localhost:5672.
	// If provided, it takes precedence over individual connection parameters.
	ConnectionString string `mapstructure:"connection_string"`

	// Host is the broker hostname (used if ConnectionString is not provided).
	Host string `mapstructure:"host"`

	// Port is the broker port (default: 5671 for AMQPS, 5672 otherwise).
	Port int `mapstructure:"port"`

	// Username and Password authenticate with SASL PLAIN. Leave both empty
	// for anonymous access.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// UseTLS enables TLS/SSL connection.
	UseTLS bool `mapstructure:"use_tls"`

	// Queue is the name of the queue for point-to-point messaging.
	Queue string `mapstructure:"queue"`

	// Topic is the name of the topic for pub/sub messaging.
	Topic string `mapstructure:"topic"`

	// Subscription is the name of a durable subscription on Topic.
	Subscription string `mapstructure:"subscription"`

	// Selector is an optional JMS-style filter, e.g. "STREAM = '2.13'".
	Selector string `mapstructure:"selector"`

	// AckMode defaults to AckAuto.
	AckMode AckMode `mapstructure:"ack_mode"`

	// ReceiveTimeout bounds each receive. Zero blocks indefinitely.
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`

	// Sentinel is the body that stops the consume loop (default: SHUTDOWN).
	Sentinel string `mapstructure:"sentinel"`

	// MalformedPolicy decides what happens to non-text messages (default: fail).
	MalformedPolicy MalformedPolicy `mapstructure:"malformed_policy"`

	// Credit is the link credit granted to the broker. Zero uses the provider default.
	Credit int `mapstructure:"credit"`

	// ContainerID identifies this client to the broker. Generated when empty.
	ContainerID string `mapstructure:"container_id"`

	// CloseTimeout bounds the release of the connection on shutdown.
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
}

// DefaultCloseTimeout bounds connection release when Config.CloseTimeout is unset.
const DefaultCloseTimeout = 10 * time.Second

// Validate checks that the configuration has all required fields.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig("config is nil")
	}

	if c.Provider == "" {
		return ErrInvalidConfig("provider is required")
	}

	if c.ConnectionString == "" {
		if c.Host == "" {
			return ErrInvalidConfig("host or connection_string is required")
		}
		if (c.Username == "") != (c.Password == "") {
			return ErrInvalidConfig("username and password must be provided together")
		}
	}

	if c.Port < 0 || c.Port > 65535 {
		return ErrInvalidConfig("invalid port number")
	}

	if c.Queue == "" && c.Topic == "" {
		return ErrInvalidConfig("either queue or topic must be specified")
	}
	if c.Queue != "" && c.Topic != "" {
		return ErrInvalidConfig("queue and topic are mutually exclusive")
	}

	if c.AckMode != "" && !c.AckMode.valid() {
		return ErrInvalidConfig(fmt.Sprintf("unknown ack_mode %q", c.AckMode))
	}

	if c.MalformedPolicy != "" && !c.MalformedPolicy.valid() {
		return ErrInvalidConfig(fmt.Sprintf("unknown malformed_policy %q", c.MalformedPolicy))
	}

	if c.ReceiveTimeout < 0 {
		return ErrInvalidConfig("receive_timeout must not be negative")
	}

	if c.Credit < 0 {
		return ErrInvalidConfig("credit must not be negative")
	}

	return nil
}

// ApplyDefaults fills in unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.AckMode == "" {
		c.AckMode = AckAuto
	}
	if c.Sentinel == "" {
		c.Sentinel = DefaultSentinel
	}
	if c.MalformedPolicy == "" {
		c.MalformedPolicy = PolicyFail
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
}

// Destination returns the configured topic or queue.
func (c *Config) Destination() (Destination, error) {
	var d Destination
	if c.Topic != "" {
		d = NewTopic(c.Topic)
	} else {
		d = NewQueue(c.Queue)
	}
	if err := d.Validate(); err != nil {
		return Destination{}, err
	}
	return d, nil
}

// BuildConnectionString constructs an AMQP connection string from individual parameters.
func (c *Config) BuildConnectionString() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}

	scheme := "amqps"
	if !c.UseTLS {
		scheme = "amqp"
	}

	port := c.Port
	if port == 0 {
		if c.UseTLS {
			port = 5671
		} else {
			port = 5672
		}
	}

	if c.Username == "" {
		return fmt.Sprintf("%s://%s:%d", scheme, c.Host, port)
	}

	encodedPassword := url.QueryEscape(c.Password)
	return fmt.Sprintf("%s://%s:%s@%s:%d", scheme, c.Username, encodedPassword, c.Host, port)
}

// EnvPrefix is prepended to every configuration key when read from the
// environment, e.g. KYUSUB_CONNECTION_STRING.
const EnvPrefix = "KYUSUB"

// configKeys lists every key Config decodes, so viper resolves them from
// the environment even when no config file mentions them.
var configKeys = []string{
	"provider",
	"connection_string",
	"host",
	"port",
	"username",
	"password",
	"use_tls",
	"queue",
	"topic",
	"subscription",
	"selector",
	"ack_mode",
	"receive_timeout",
	"sentinel",
	"malformed_policy",
	"credit",
	"container_id",
	"close_timeout",
}

// NewViper returns a viper instance bound to the KYUSUB_* environment with
// the package defaults applied. Callers may add a config file or flags
// before passing it to ConfigFromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}

	v.SetDefault("use_tls", true)
	v.SetDefault("ack_mode", string(AckAuto))
	v.SetDefault("sentinel", DefaultSentinel)
	v.SetDefault("malformed_policy", string(PolicyFail))
	v.SetDefault("close_timeout", DefaultCloseTimeout)
	return v
}

// ConfigFromViper decodes, defaults and validates a Config.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, ErrInvalidConfig(err.Error())
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML, JSON or TOML file. Environment variables
// override values from the file.
func LoadConfig(path string) (*Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, ErrInvalidConfig(fmt.Sprintf("read %s: %v", path, err))
	}
	return ConfigFromViper(v)
}

// LoadConfigFromEnv creates a Config from KYUSUB_* environment variables.
func LoadConfigFromEnv() (*Config, error) {
	return ConfigFromViper(NewViper())
}
