// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package logging owns the structured logger shared by every engine
// component. Components obtain a *logrus.Entry tagged with their name via
// For and add per-event fields (channel, loop, fd) on top.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Format selects the log output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds logging configuration.
type Config struct {
	Level  string    // panic, fatal, error, warn, info, debug, trace
	Format Format    // text or json
	Output io.Writer // defaults to os.Stderr
}

// DefaultConfig returns the configuration the package starts with.
func DefaultConfig() Config {
	return Config{Level: "info", Format: FormatText, Output: os.Stderr}
}

var current atomic.Pointer[logrus.Logger]

func init() {
	l, _ := build(DefaultConfig())
	current.Store(l)
}

func build(cfg Config) (*logrus.Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var formatter logrus.Formatter
	switch Format(strings.ToLower(string(cfg.Format))) {
	case FormatJSON:
		formatter = &logrus.JSONFormatter{}
	case FormatText, "":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	default:
		return nil, fmt.Errorf("log format %q: unsupported", cfg.Format)
	}
	return &logrus.Logger{
		Out:       out,
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     lvl,
	}, nil
}

// Configure replaces the shared logger. Entries obtained earlier through
// For keep writing to the previous logger.
func Configure(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	current.Store(l)
	return nil
}

// Logger returns the shared logger.
func Logger() *logrus.Logger {
	return current.Load()
}

// For returns an entry carrying a "component" field.
func For(component string) *logrus.Entry {
	return current.Load().WithField("component", component)
}

// SetLevel changes the level of the shared logger in place, so existing
// entries observe it.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	current.Load().SetLevel(lvl)
	return nil
}

// Validate reports whether cfg would be accepted by Configure.
func Validate(cfg Config) error {
	_, err := build(cfg)
	return err
}
