package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"driveguard/internal/detection"
)

const detectionConfigKey = "detection"

// Configurable is the detection machine's options surface
type Configurable interface {
	Options() detection.Options
	Configure(opts detection.Options) error
}

// ConfigStore persists key/value settings
type ConfigStore interface {
	SaveConfig(key, value string) error
	GetConfig(key string) (string, error)
	DeleteConfig(key string) error
}

// ConfigImplementation implements the config service
type ConfigImplementation struct {
	machine  Configurable
	store    ConfigStore
	defaults detection.Options
	logger   *zap.SugaredLogger
}

// NewConfigService creates a new config service implementation. store may be
// nil. The machine's options at this point are what ResetDetection restores.
func NewConfigService(machine Configurable, store ConfigStore, logger *zap.SugaredLogger) *ConfigImplementation {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ConfigImplementation{
		machine:  machine,
		store:    store,
		defaults: machine.Options(),
		logger:   logger,
	}
}

// GetDetection returns the active detection options
func (c *ConfigImplementation) GetDetection(ctx context.Context) (*detection.Options, error) {
	opts := c.machine.Options()
	return &opts, nil
}

// UpdateDetection validates and applies new options, then persists them.
// A persistence failure is logged; the new options stay active.
func (c *ConfigImplementation) UpdateDetection(ctx context.Context, opts *detection.Options) (*detection.Options, error) {
	if err := c.machine.Configure(*opts); err != nil {
		if errors.Is(err, detection.ErrInvalidOptions) {
			return nil, badRequest("%s", err.Error())
		}
		return nil, err
	}

	if c.store != nil {
		data, err := json.Marshal(opts)
		if err == nil {
			err = c.store.SaveConfig(detectionConfigKey, string(data))
		}
		if err != nil {
			c.logger.Warnw("failed to persist detection options", "error", err)
		}
	}
	return c.GetDetection(ctx)
}

// ResetDetection restores the startup options and forgets any persisted
// override
func (c *ConfigImplementation) ResetDetection(ctx context.Context) (*detection.Options, error) {
	if err := c.machine.Configure(c.defaults); err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.DeleteConfig(detectionConfigKey); err != nil {
			return nil, unavailable("failed to clear persisted detection options: %v", err)
		}
	}
	c.logger.Info("detection options reset to startup values")
	return c.GetDetection(ctx)
}

// LoadPersisted applies options saved by an earlier UpdateDetection. It
// returns false when nothing was stored.
func (c *ConfigImplementation) LoadPersisted(ctx context.Context) (bool, error) {
	if c.store == nil {
		return false, nil
	}

	raw, err := c.store.GetConfig(detectionConfigKey)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}

	opts := c.machine.Options()
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return false, fmt.Errorf("stored detection options: %w", err)
	}
	if err := c.machine.Configure(opts); err != nil {
		return false, fmt.Errorf("stored detection options: %w", err)
	}
	c.logger.Infow("restored persisted detection options", "ear_threshold", opts.EARThreshold,
		"drowsy_frames", opts.DrowsyFrames, "absence_frames", opts.AbsenceFrames)
	return true, nil
}
