package runner

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	multierror "github.com/hashicorp/go-multierror"
)

// Config is the explicit configuration surface of a deployment run.
// It is passed in, never read from ambient globals, so tests can run
// with synthetic configurations.
type Config struct {
	// ConfirmDepth is the number of checkpoints required on top of a
	// transaction before it counts as durable
	ConfirmDepth uint64 `env:"FORKV3_CONFIRM_DEPTH" envDefault:"2"`
	// ConfirmTimeout bounds the wait for any single transaction
	ConfirmTimeout time.Duration `env:"FORKV3_CONFIRM_TIMEOUT" envDefault:"15m"`
	// StatePath locates the recovery document
	StatePath string `env:"FORKV3_STATE_PATH" envDefault:"deployments.json"`
}

// FromEnv builds a config from the environment, applying defaults for
// anything not set
func FromEnv() (Config, error) {
	return env.ParseAs[Config]()
}

// Validate reports every violation at once, not just the first
func (c Config) Validate() error {
	var result *multierror.Error
	if c.ConfirmDepth < 1 {
		result = multierror.Append(result, errors.New("confirmation depth must be at least 1"))
	}
	if c.ConfirmTimeout <= 0 {
		result = multierror.Append(result, errors.New("confirmation timeout must be positive"))
	}
	if c.StatePath == "" {
		result = multierror.Append(result, errors.New("state path must not be empty"))
	}
	return result.ErrorOrNil()
}
