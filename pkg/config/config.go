// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/birddigital/intercom-gatekeeper/pkg/logging"
)

// GatewayConfig controls the gateway listener and call timing.
type GatewayConfig struct {
	Listen             string  `yaml:"listen"`
	AnswerDelaySeconds float64 `yaml:"answer_delay_seconds"`
	HangupDelaySeconds float64 `yaml:"hangup_delay_seconds"`
}

// DirectoryConfig controls the number directory fetcher.
type DirectoryConfig struct {
	URL                    string `yaml:"url"`
	AuthToken              string `yaml:"auth_token"`
	AuthHeader             string `yaml:"auth_header"`
	Method                 string `yaml:"method"`
	DataKey                string `yaml:"data_key"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	TimeoutSeconds         int    `yaml:"timeout_seconds"`
	CacheFile              string `yaml:"cache_file"`
	UseCacheOnFailure      bool   `yaml:"use_cache_on_failure"`
}

// ActuatorConfig controls the release device.
type ActuatorConfig struct {
	Pin                   int     `yaml:"pin"`
	ActiveDurationSeconds float64 `yaml:"active_duration_seconds"`
	Mode                  string  `yaml:"mode"` // gpio or simulated
}

// MatcherConfig controls caller-ID normalization.
type MatcherConfig struct {
	CountryCode       string `yaml:"country_code"`
	MinNationalDigits int    `yaml:"min_national_digits"`
	MaxNationalDigits int    `yaml:"max_national_digits"`
}

// CallLogConfig controls the optional Postgres call log.
type CallLogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Config is the full service configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Directory DirectoryConfig `yaml:"directory"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	CallLog   CallLogConfig   `yaml:"call_log"`
	Logging   logging.Config  `yaml:"logging"`
}

// Default returns the configuration used when a field is absent.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Listen:             ":8080",
			AnswerDelaySeconds: 1,
			HangupDelaySeconds: 2,
		},
		Directory: DirectoryConfig{
			AuthHeader:             "api_token",
			Method:                 "POST",
			DataKey:                "data",
			RefreshIntervalSeconds: 3600,
			TimeoutSeconds:         30,
			CacheFile:              "cache/numbers.json",
			UseCacheOnFailure:      true,
		},
		Actuator: ActuatorConfig{
			Pin:                   17,
			ActiveDurationSeconds: 5,
			Mode:                  "gpio",
		},
		Logging: logging.Config{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads a YAML file over the defaults. A blank path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func secondsF(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// AnswerDelay returns the ring time before answering.
func (c *GatewayConfig) AnswerDelay() time.Duration { return secondsF(c.AnswerDelaySeconds) }

// HangupDelay returns the hold time before hanging up.
func (c *GatewayConfig) HangupDelay() time.Duration { return secondsF(c.HangupDelaySeconds) }

// RefreshInterval returns the directory refresh period.
func (c *DirectoryConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// Timeout returns the directory request timeout.
func (c *DirectoryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ActiveDuration returns how long the device stays on per activation.
func (c *ActuatorConfig) ActiveDuration() time.Duration {
	return secondsF(c.ActiveDurationSeconds)
}
