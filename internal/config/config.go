// Package config loads the proxy's INI configuration file, mirroring the
// [Server] / [Controller] / [Gateway] sections of the system it replaces.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// EndpointType names one of the three transports an endpoint can use.
type EndpointType string

const (
	Serial EndpointType = "serial"
	TCP    EndpointType = "tcp"
	MQTT   EndpointType = "mqtt"
)

// TCPMode distinguishes a listening TCP endpoint from a dialing one; the
// wire format only names "tcp", so this is an addition on top of it.
type TCPMode string

const (
	TCPModeServer TCPMode = "server"
	TCPModeClient TCPMode = "client"
)

// Endpoint holds every field either a gateway or controller endpoint might
// need; which fields apply depends on Type.
type Endpoint struct {
	Type EndpointType `mapstructure:"type"`

	// Serial
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`

	// TCP
	Address        string  `mapstructure:"address"`
	TCPMode        TCPMode `mapstructure:"tcp_mode"`
	TimeoutEnabled bool    `mapstructure:"timeout_enabled"`

	// MQTT
	Broker             string `mapstructure:"broker"`
	PublishTopicPrefix string `mapstructure:"publish_topic_prefix"`
}

type ServerConfig struct {
	DatabaseURL        string `mapstructure:"database_url"`
	FirmwaresDirectory string `mapstructure:"firmwares_directory"`
	LogLevel           string `mapstructure:"log_level"`
	LogDir             string `mapstructure:"log_dir"`
}

// Config is the full set of knobs the proxy needs to run.
type Config struct {
	Server     ServerConfig `mapstructure:"server"`
	Gateway    Endpoint     `mapstructure:"gateway"`
	Controller Endpoint     `mapstructure:"controller"`
}

// Load reads an INI file at path and applies defaults for anything left
// unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.database_url", "./gwproxy.db")
	v.SetDefault("server.firmwares_directory", "./firmwares")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_dir", "")

	v.SetDefault("gateway.tcp_mode", string(TCPModeClient))
	v.SetDefault("gateway.baud_rate", 115200)

	v.SetDefault("controller.tcp_mode", string(TCPModeServer))
	v.SetDefault("controller.baud_rate", 115200)
}

// Validate rejects configurations that name an endpoint type this proxy
// does not implement, or that are missing the fields that type requires.
func (c *Config) Validate() error {
	for name, ep := range map[string]Endpoint{"gateway": c.Gateway, "controller": c.Controller} {
		if err := ep.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (e Endpoint) validate(name string) error {
	switch e.Type {
	case Serial:
		if e.Port == "" {
			return fmt.Errorf("%s: serial endpoint requires port", name)
		}
	case TCP:
		if e.Address == "" {
			return fmt.Errorf("%s: tcp endpoint requires address", name)
		}
		if e.TCPMode != TCPModeServer && e.TCPMode != TCPModeClient {
			return fmt.Errorf("%s: tcp_mode must be %q or %q, got %q", name, TCPModeServer, TCPModeClient, e.TCPMode)
		}
	case MQTT:
		if e.Broker == "" {
			return fmt.Errorf("%s: mqtt endpoint requires broker", name)
		}
		if e.PublishTopicPrefix == "" {
			return fmt.Errorf("%s: mqtt endpoint requires publish_topic_prefix", name)
		}
	default:
		return fmt.Errorf("%s: unknown endpoint type %q", name, e.Type)
	}
	return nil
}
