// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"os"

	"github.com/sirupsen/logrus"
)

// EnvLogLevel names the environment variable read by FromEnv.
const EnvLogLevel = "UCP_LOG_LEVEL"

// Config holds registry-wide settings.
type Config struct {
	// Logger receives lifecycle traces. When nil, a private logger
	// writing to stderr at LogLevel is used.
	Logger   logrus.Ext1FieldLogger
	LogLevel logrus.Level
}

// Option configures a Registry.
type Option func(*Config)

// WithLogger routes lifecycle traces to l.
func WithLogger(l logrus.Ext1FieldLogger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithLogLevel sets the level of the default logger.
// It has no effect on a logger supplied through WithLogger.
func WithLogLevel(level logrus.Level) Option {
	return func(c *Config) { c.LogLevel = level }
}

// FromEnv returns an Option applying UCP_LOG_LEVEL, if set.
func FromEnv() (Option, error) {
	v, ok := os.LookupEnv(EnvLogLevel)
	if !ok || v == "" {
		return func(*Config) {}, nil
	}
	level, err := logrus.ParseLevel(v)
	if err != nil {
		return nil, err
	}
	return WithLogLevel(level), nil
}

func newConfig(opts []Option) Config {
	c := Config{LogLevel: logrus.WarnLevel}
	for _, opt := range opts {
		opt(&c)
	}
	if c.Logger == nil {
		l := logrus.New()
		l.SetLevel(c.LogLevel)
		c.Logger = l
	}
	return c
}
