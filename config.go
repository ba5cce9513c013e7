package bus

import (
	"strconv"
	"strings"
	"time"
)

// Config holds everything needed to connect the Broker Adapter and drive
// default RPC behavior. Mirrors the fields enumerated in the spec's
// configuration options, following the teacher's mapstructure-tag
// convention for parity with its config-loading style.
type Config struct {
	Host         string        `mapstructure:"host"`
	VirtualHost  string        `mapstructure:"virtual_host" default:"/"`
	Port         int           `mapstructure:"port" default:"5672"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	ExchangeName string        `mapstructure:"exchange_name" default:"bus"`
	RPCTimeout   time.Duration `mapstructure:"rpc_timeout" default:"5s"`

	// ReconnectInitialInterval/ReconnectMaxElapsed parameterize the
	// Broker Adapter's backoff.ExponentialBackOff reconnect loop.
	ReconnectInitialInterval time.Duration `mapstructure:"reconnect_initial_interval" default:"500ms"`
	ReconnectMaxElapsed      time.Duration `mapstructure:"reconnect_max_elapsed" default:"30s"`
}

// WithDefaults returns a copy of c with zero-valued optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.VirtualHost == "" {
		c.VirtualHost = "/"
	}
	if c.Port == 0 {
		c.Port = 5672
	}
	if c.ExchangeName == "" {
		c.ExchangeName = "bus"
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = 5 * time.Second
	}
	if c.ReconnectInitialInterval == 0 {
		c.ReconnectInitialInterval = 500 * time.Millisecond
	}
	if c.ReconnectMaxElapsed == 0 {
		c.ReconnectMaxElapsed = 30 * time.Second
	}
	return c
}

// Validate fails startup with InvalidConfigurationError naming the
// offending field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return NewInvalidConfiguration("host", "must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return NewInvalidConfiguration("port", "must be between 0 and 65535")
	}
	if strings.TrimSpace(c.ExchangeName) == "" {
		return NewInvalidConfiguration("exchange_name", "must not be empty")
	}
	if c.RPCTimeout < 0 {
		return NewInvalidConfiguration("rpc_timeout", "must not be negative")
	}
	return nil
}

// URL renders the AMQP connection string for this configuration.
func (c Config) URL() string {
	vhost := c.VirtualHost
	if vhost == "/" {
		vhost = ""
	}
	port := c.Port
	if port == 0 {
		port = 5672
	}
	return "amqp://" + c.Username + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(port) + "/" + vhost
}
