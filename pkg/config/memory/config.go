// Package memory provides a config.Config whose value is set in process,
// for tests and hard coded overrides.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/code-payments/custody-program/pkg/config"
)

var errInduced = errors.New("memory config: induced error")

// Config holds a single value in memory. A nil value means unset.
type Config struct {
	mu       sync.RWMutex
	value    interface{}
	failing  bool
	shutdown bool
}

// NewConfig returns a Config holding value. Pass nil for an unset config.
func NewConfig(value interface{}) *Config {
	return &Config{value: value}
}

// Get implements config.Config.Get.
func (c *Config) Get(_ context.Context) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.shutdown:
		return nil, config.ErrShutdown
	case c.failing:
		return nil, errInduced
	case c.value == nil:
		return nil, config.ErrNoValue
	default:
		return c.value, nil
	}
}

// Shutdown implements config.Config.Shutdown.
func (c *Config) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shutdown = true
}

// SetValue replaces the held value.
func (c *Config) SetValue(value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = value
}

// ClearValue unsets the held value, so Get returns config.ErrNoValue.
func (c *Config) ClearValue() {
	c.SetValue(nil)
}

// InduceErrors makes Get fail until StopInducingErrors is called.
func (c *Config) InduceErrors() {
	c.setFailing(true)
}

// StopInducingErrors undoes InduceErrors.
func (c *Config) StopInducingErrors() {
	c.setFailing(false)
}

func (c *Config) setFailing(failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failing = failing
}
