package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framegrab/internal/config"
)

// New builds the root logger from the logging configuration. Components
// receive it at construction and derive their own with Named.
func New(cfg config.LoggingConfig) hclog.Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(cfg config.LoggingConfig, out io.Writer) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	color := hclog.ColorOff
	jsonFormat := strings.EqualFold(cfg.Format, "json")
	if cfg.EnableColors && !jsonFormat {
		color = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "framegrab",
		Level:      level,
		Output:     out,
		JSONFormat: jsonFormat,
		Color:      color,
	})
}
