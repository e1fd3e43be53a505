// Package config holds the tunables recognized by both endpoints (spec
// §6), replacing the teacher's free-function loadConfig() with a single
// validated struct.
package config

import (
	"fmt"
	"time"

	"ticknet/internal/aead"
)

// Config is shared by the client and server endpoints; each reads only
// the fields relevant to its side.
type Config struct {
	TickRateHz               int
	InterpDelayMs            int
	MaxRewindMs              int
	InputRedundancy          int
	ConnectionTimeoutMs      int
	MaxInputsPerSecond       int
	ErrorThresholdPosM       float64
	ErrorThresholdVelMps     float64
	PositionCorrectionFactor float64
	MaxClients               int
	MaxSpeedMps              float64

	// EncryptionEnabled gates FlagEncrypted traffic (design note 9); the
	// preshared key itself is provisioned out-of-band (deployment secret
	// store, not this struct's concern beyond holding it in memory).
	EncryptionEnabled bool
	PresharedKey      [aead.KeySize]byte
}

// Default returns the configuration defaults named in spec §6.
func Default() Config {
	return Config{
		TickRateHz:               60,
		InterpDelayMs:            100,
		MaxRewindMs:              1000,
		InputRedundancy:          3,
		ConnectionTimeoutMs:      10000,
		MaxInputsPerSecond:       120,
		ErrorThresholdPosM:       0.02,
		ErrorThresholdVelMps:     0.2,
		PositionCorrectionFactor: 0.2,
		MaxClients:               32,
		MaxSpeedMps:              5.0,
	}
}

// Validate bounds-checks every tunable against the ranges spec §6 lists.
func (c Config) Validate() error {
	if c.TickRateHz < 10 || c.TickRateHz > 120 {
		return fmt.Errorf("config: tick_rate_hz %d out of range [10,120]", c.TickRateHz)
	}
	if c.InterpDelayMs < 0 || c.InterpDelayMs > 500 {
		return fmt.Errorf("config: interp_delay_ms %d out of range [0,500]", c.InterpDelayMs)
	}
	if c.MaxRewindMs < 0 || c.MaxRewindMs > 1000 {
		return fmt.Errorf("config: max_rewind_ms %d out of range [0,1000]", c.MaxRewindMs)
	}
	if c.InputRedundancy < 1 || c.InputRedundancy > 8 {
		return fmt.Errorf("config: input_redundancy %d out of range [1,8]", c.InputRedundancy)
	}
	if c.PositionCorrectionFactor < 0 || c.PositionCorrectionFactor > 1 {
		return fmt.Errorf("config: position_correction_factor %f out of range [0,1]", c.PositionCorrectionFactor)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("config: max_clients must be positive")
	}
	if c.MaxInputsPerSecond < 1 {
		return fmt.Errorf("config: max_inputs_per_second must be positive")
	}
	if c.MaxSpeedMps <= 0 {
		return fmt.Errorf("config: max_speed_mps must be positive")
	}
	if c.EncryptionEnabled {
		zero := true
		for _, b := range c.PresharedKey {
			if b != 0 {
				zero = false
				break
			}
		}
		if zero {
			return fmt.Errorf("config: encryption_enabled requires a non-zero preshared_key")
		}
	}
	return nil
}

// TickInterval returns the fixed per-tick duration.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}

// InterpDelay returns InterpDelayMs as a Duration.
func (c Config) InterpDelay() time.Duration {
	return time.Duration(c.InterpDelayMs) * time.Millisecond
}

// MaxRewind returns MaxRewindMs as a Duration.
func (c Config) MaxRewind() time.Duration {
	return time.Duration(c.MaxRewindMs) * time.Millisecond
}

// ConnectionTimeout returns ConnectionTimeoutMs as a Duration.
func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
}
