package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath                = "/etc/febos-bridge/config.yaml"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultAPITimeoutSeconds   = 15
	DefaultPollIntervalSeconds = 60
	DefaultFailureThreshold    = 3
	DefaultDiscoveryPrefix     = "homeassistant"
	DefaultTopicPrefix         = "febos"
)

// Config is the full bridge configuration.
type Config struct {
	HTTPAddr string          `yaml:"http_addr"`
	API      APIConfig       `yaml:"api"`
	MQTT     *MQTTConfig     `yaml:"mqtt"`
	Accounts []AccountConfig `yaml:"accounts"`
}

// APIConfig tunes the Febos cloud client.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MQTTConfig enables the Home Assistant MQTT bridge when present.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PasswordFile    string `yaml:"password_file"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

// AccountConfig is one Febos cloud login to poll.
type AccountConfig struct {
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	PasswordFile        string `yaml:"password_file"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	FailureThreshold    int    `yaml:"failure_threshold"`
}

// Load parses the YAML config file, applies defaults, resolves secret files,
// and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err = resolveSecrets(cfg); err != nil {
		return nil, err
	}
	if err = Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = DefaultAPITimeoutSeconds
	}
	if cfg.MQTT != nil {
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].PollIntervalSeconds == 0 {
			cfg.Accounts[i].PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		if cfg.Accounts[i].FailureThreshold == 0 {
			cfg.Accounts[i].FailureThreshold = DefaultFailureThreshold
		}
	}
}

// resolveSecrets reads *_file fields into their in-memory counterparts.
func resolveSecrets(cfg *Config) error {
	if cfg.MQTT != nil && cfg.MQTT.PasswordFile != "" {
		secret, err := readSecretFile(cfg.MQTT.PasswordFile)
		if err != nil {
			return fmt.Errorf("mqtt.password_file: %w", err)
		}
		cfg.MQTT.Password = secret
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].PasswordFile == "" {
			continue
		}
		secret, err := readSecretFile(cfg.Accounts[i].PasswordFile)
		if err != nil {
			return fmt.Errorf("accounts[%d].password_file: %w", i, err)
		}
		cfg.Accounts[i].Password = secret
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}

	seen := make(map[string]bool)
	for i, account := range cfg.Accounts {
		username := strings.ToLower(strings.TrimSpace(account.Username))
		if username == "" {
			return fmt.Errorf("accounts[%d].username is required", i)
		}
		if account.Password == "" {
			return fmt.Errorf("accounts[%d]: password or password_file is required", i)
		}
		if seen[username] {
			return fmt.Errorf("accounts[%d]: duplicate username %q", i, username)
		}
		seen[username] = true
		if account.PollIntervalSeconds < 15 {
			return fmt.Errorf("accounts[%d].poll_interval_seconds must be at least 15", i)
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is configured")
	}
	return nil
}
