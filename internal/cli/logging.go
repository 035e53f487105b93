package cli

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/config"
)

// setupLogger configures the standard logrus logger from cfg, so packages
// that fall back to it share the same level and format.
func setupLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.StandardLogger()
	if out != nil {
		logger.SetOutput(out)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
