package simulator

import (
	"errors"
	"fmt"
	"time"
)

const maxRate = 1000

var ErrInvalidConfig = errors.New("invalid simulation config")

// Config describes one scan experiment: a display cycling frames of a random
// payload and a camera sampling whatever frame is on screen.
type Config struct {
	PayloadSize int     `mapstructure:"payload"`
	BlockSize   int     `mapstructure:"block-size"`
	Seeded      bool    `mapstructure:"seeded"`
	FPS         float64 `mapstructure:"fps"`       // frames shown per second
	ScanRate    float64 `mapstructure:"scan-rate"` // frames read per second
	// Loss is the probability that a read yields nothing.
	Loss float64 `mapstructure:"loss"`
	// Corruption is the probability that a read has one character damaged.
	Corruption  float64       `mapstructure:"corruption"`
	Trials      int           `mapstructure:"trials"`
	Seed        int64         `mapstructure:"seed"`
	MaxDuration time.Duration `mapstructure:"max-duration"`
}

// DefaultConfig returns a config resembling a phone reading a laptop screen.
func DefaultConfig() Config {
	return Config{
		PayloadSize: 16 * 1024,
		BlockSize:   256,
		FPS:         10,
		ScanRate:    8,
		Loss:        0.2,
		Corruption:  0.02,
		Trials:      20,
		Seed:        1,
		MaxDuration: 5 * time.Minute,
	}
}

func (c Config) Validate() error {
	switch {
	case c.PayloadSize < 0:
		return fmt.Errorf("%w: negative payload size", ErrInvalidConfig)
	case c.BlockSize < 1 || c.BlockSize > 0xffff:
		return fmt.Errorf("%w: block size %d", ErrInvalidConfig, c.BlockSize)
	case c.FPS <= 0 || c.ScanRate <= 0:
		return fmt.Errorf("%w: frame and scan rates must be positive", ErrInvalidConfig)
	case c.FPS > maxRate || c.ScanRate > maxRate:
		return fmt.Errorf("%w: frame and scan rates are capped at %v per second", ErrInvalidConfig, maxRate)
	case c.Loss < 0 || c.Loss >= 1:
		return fmt.Errorf("%w: loss %v not in [0, 1)", ErrInvalidConfig, c.Loss)
	case c.Corruption < 0 || c.Corruption > 1:
		return fmt.Errorf("%w: corruption %v not in [0, 1]", ErrInvalidConfig, c.Corruption)
	case c.Trials < 1:
		return fmt.Errorf("%w: at least one trial is needed", ErrInvalidConfig)
	case c.MaxDuration <= 0:
		return fmt.Errorf("%w: max duration must be positive", ErrInvalidConfig)
	}
	return nil
}
