package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Pairing  PairingConfig  `yaml:"pairing"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

type SessionsConfig struct {
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	ClientQueueSize  int           `yaml:"client_queue_size"`
}

type PairingConfig struct {
	// PhoneDigits is the exact number of digits expected after the
	// leading "+" of a pairing phone number.
	PhoneDigits int  `yaml:"phone_digits"`
	MaskPhones  bool `yaml:"mask_phones"`
}

type StoreConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Sessions: SessionsConfig{
			ReconnectDelay:   5 * time.Second,
			SnapshotInterval: 30 * time.Second,
			ClientQueueSize:  64,
		},
		Pairing: PairingConfig{
			PhoneDigits: 12,
		},
		Store: StoreConfig{
			CredentialsPath: "data/credentials",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config at path on top of built-in defaults. A missing file
// is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Sessions.ReconnectDelay <= 0 {
		return fmt.Errorf("sessions.reconnect_delay must be positive")
	}
	if c.Sessions.ClientQueueSize <= 0 {
		return fmt.Errorf("sessions.client_queue_size must be positive")
	}
	if c.Pairing.PhoneDigits < 8 || c.Pairing.PhoneDigits > 15 {
		return fmt.Errorf("pairing.phone_digits %d outside E.164 range", c.Pairing.PhoneDigits)
	}
	return nil
}
