// Package sandbox runs untrusted scripts with declared dependencies in an
// isolated environment and captures their output.
package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// Drivers accepted by New.
const (
	DriverDocker = "docker"
	DriverLocal  = "local"
)

// TimeoutExitCode is reported when a script is killed at its deadline.
const TimeoutExitCode = 124

// MissingDependencyExitCode is reported by LocalEnvironment when a declared
// dependency is not installed.
const MissingDependencyExitCode = 127

// MaxDeps bounds the number of dependencies per run.
const MaxDeps = 32

var depPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]{0,127}(=[A-Za-z0-9._+~-]{1,64})?$`)

// Environment executes a script. A non-zero exit is reported through
// RunResult, never as an error.
type Environment interface {
	Run(ctx context.Context, script string, deps []string) (*domain.RunResult, error)
	Close() error
}

// Config holds the sandbox settings.
type Config struct {
	Driver         string
	Image          string
	User           string
	Timeout        time.Duration
	InstallTimeout time.Duration
	MemoryBytes    int64
	CPUs           float64
	PidsLimit      int64
	MaxOutputBytes int
	TmpfsSize      string
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = "cgr.dev/chainguard/wolfi-base:latest"
	}
	if c.User == "" {
		c.User = "65532:65532"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = 5 * time.Minute
	}
	if c.MemoryBytes <= 0 {
		c.MemoryBytes = 512 << 20
	}
	if c.CPUs <= 0 {
		c.CPUs = 1
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = 256
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 1 << 20
	}
	if c.TmpfsSize == "" {
		c.TmpfsSize = "64m"
	}
	return c
}

// New creates the Environment selected by cfg.Driver.
func New(cfg Config, logger logrus.FieldLogger) (Environment, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverDocker:
		return NewDockerEnvironment(cfg, logger)
	case DriverLocal:
		return NewLocalEnvironment(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox driver %q", cfg.Driver)
	}
}

// ValidateDeps checks that every dependency is a plain package name,
// optionally pinned with =version.
func ValidateDeps(deps []string) error {
	if len(deps) > MaxDeps {
		return fmt.Errorf("%w: at most %d deps are allowed", domain.ErrValidation, MaxDeps)
	}
	for _, d := range deps {
		if !depPattern.MatchString(d) {
			return fmt.Errorf("%w: invalid dependency name %q", domain.ErrValidation, d)
		}
	}
	return nil
}

func timeoutNotice(d time.Duration) string {
	return fmt.Sprintf("\nscript timed out after %s and was killed", d)
}
