package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// LocalEnvironment runs scripts as host processes in a scratch directory.
// It only isolates the working directory and environment and is meant for
// development and tests. Dependencies must already be on PATH.
type LocalEnvironment struct {
	cfg    Config
	logger logrus.FieldLogger
}

// NewLocalEnvironment creates a LocalEnvironment.
func NewLocalEnvironment(cfg Config, logger logrus.FieldLogger) *LocalEnvironment {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LocalEnvironment{cfg: cfg.withDefaults(), logger: logger}
}

// Close implements Environment.
func (l *LocalEnvironment) Close() error {
	return nil
}

// Run implements Environment.
func (l *LocalEnvironment) Run(ctx context.Context, script string, deps []string) (*domain.RunResult, error) {
	if err := ValidateDeps(deps); err != nil {
		return nil, err
	}
	start := time.Now()

	var missing []string
	for _, dep := range deps {
		name, _, _ := strings.Cut(dep, "=")
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &domain.RunResult{
			ReturnCode: MissingDependencyExitCode,
			Stderr:     "missing dependencies: " + strings.Join(missing, " "),
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	dir, err := os.MkdirTemp("", "chaingpt-run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	stdout := newLimitedBuffer(l.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(l.cfg.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", script)
	cmd.Dir = dir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	isolateProcessGroup(cmd)

	runErr := cmd.Run()

	result := &domain.RunResult{
		DurationMs: time.Since(start).Milliseconds(),
	}

	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.ReturnCode = TimeoutExitCode
		result.TimedOut = true
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run script: %w", runErr)
		}
		result.ReturnCode = exitCode(exitErr.ProcessState)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.StdoutTruncated = stdout.Truncated()
	result.StderrTruncated = stderr.Truncated()
	if result.TimedOut {
		result.Stderr += timeoutNotice(l.cfg.Timeout)
	}

	l.logger.WithFields(logrus.Fields{
		"return_code": result.ReturnCode,
		"timed_out":   result.TimedOut,
		"duration_ms": result.DurationMs,
	}).Info("script finished")
	return result, nil
}
