// File: config/config.go
// Package config loads the YAML configuration of hioload-pipeline programs.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/momentics/hioload-pipeline/bootstrap"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config is the root of a configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the listening side.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	NumLoops         int    `yaml:"num_loops"` // 0 selects one loop per CPU
	Selection        string `yaml:"selection"` // round-robin, random or weighted
	Weights          []uint `yaml:"weights,omitempty"`
	ReadBufferSize   int    `yaml:"read_buffer_size"`
	MaxReadsPerEvent int    `yaml:"max_reads_per_event"`
	MaxLineLength    int    `yaml:"max_line_length"`
	Backlog          int    `yaml:"backlog"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the HTTP endpoint serving /metrics and
// /debug/state. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	ch := channel.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:             9119,
			Selection:        "round-robin",
			ReadBufferSize:   ch.ReadBufferSize,
			MaxReadsPerEvent: ch.MaxReadsPerEvent,
			MaxLineLength:    8192,
			Backlog:          ch.Listen.Backlog,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// ConfigError represents a configuration file error with location info.
type ConfigError struct {
	Path    string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: err.Error(), Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Message: err.Error(), Err: err}
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	s := c.Server
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", s.Port))
	}
	if s.NumLoops < 0 {
		errs = append(errs, fmt.Errorf("server.num_loops must not be negative"))
	}
	strategy, err := bootstrap.ParseStrategy(s.Selection)
	if err != nil {
		errs = append(errs, fmt.Errorf("server.selection: %w", err))
	} else if strategy == bootstrap.Weighted {
		if len(s.Weights) == 0 {
			errs = append(errs, errors.New("server.weights required for weighted selection"))
		} else if s.NumLoops != 0 && len(s.Weights) != s.NumLoops {
			errs = append(errs, fmt.Errorf("server.weights has %d entries for %d loops", len(s.Weights), s.NumLoops))
		}
	}
	if s.ReadBufferSize < 0 {
		errs = append(errs, errors.New("server.read_buffer_size must not be negative"))
	}
	if s.MaxReadsPerEvent < 0 {
		errs = append(errs, errors.New("server.max_reads_per_event must not be negative"))
	}
	if s.MaxLineLength < 0 {
		errs = append(errs, errors.New("server.max_line_length must not be negative"))
	}
	if err := logging.Validate(c.LoggingConfig()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Strategy returns the parsed loop selection strategy.
func (c *Config) Strategy() bootstrap.Strategy {
	s, _ := bootstrap.ParseStrategy(c.Server.Selection)
	return s
}

// Address returns the listening address.
func (c *Config) Address() *channel.SocketAddress {
	if c.Server.Host == "" {
		return channel.NewSocketAddress(c.Server.Port)
	}
	return channel.NewHostAddress(c.Server.Host, c.Server.Port)
}

// ChannelConfig maps the server section onto channel settings.
func (c *Config) ChannelConfig() channel.Config {
	cfg := channel.DefaultConfig()
	cfg.ReadBufferSize = c.Server.ReadBufferSize
	cfg.MaxReadsPerEvent = c.Server.MaxReadsPerEvent
	if c.Server.Backlog > 0 {
		cfg.Listen.Backlog = c.Server.Backlog
	}
	return cfg
}

// LoggingConfig maps the log section onto internal/logging.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = logging.Format(c.Log.Format)
	return cfg
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
