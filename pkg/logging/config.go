package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string

	// Format is the output format (console, json).
	Format string

	// Output is where to write logs (stderr, stdout, or a file path).
	Output string

	// TimeFormat for console output.
	TimeFormat string

	// NoColor disables colored console output.
	NoColor bool

	// AddCaller adds file:line of the log call site.
	AddCaller bool

	// Fields are static key=value pairs attached to every event.
	Fields map[string]string
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "auto",
		Output:     "stderr",
		TimeFormat: time.Kitchen,
	}
}

// NewLoggerFromConfig creates a logger from the given configuration.
func NewLoggerFromConfig(cfg Config) (zerolog.Logger, error) {
	writer, err := getWriter(cfg)
	if err != nil {
		return zerolog.Nop(), err
	}

	level := parseLevel(cfg.Level)

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	if cfg.AddCaller {
		logger = logger.With().Caller().Logger()
	}

	for k, v := range cfg.Fields {
		logger = logger.With().Str(k, v).Logger()
	}

	return logger, nil
}

// Configure sets up the default logger from the given configuration.
func Configure(cfg Config) error {
	logger, err := NewLoggerFromConfig(cfg)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	SetDefault(logger)
	return nil
}

// ConfigureFromEnv sets up the default logger from environment variables.
func ConfigureFromEnv() error {
	cfg := DefaultConfig()

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if os.Getenv("NO_COLOR") != "" {
		cfg.NoColor = true
	}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = "debug"
		cfg.AddCaller = true
	}

	return Configure(cfg)
}

// getWriter returns the output writer for the configuration.
func getWriter(cfg Config) (io.Writer, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	case "discard":
		return io.Discard, nil
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}

	format := cfg.Format
	if format == "" || format == "auto" {
		if out == os.Stderr && isatty() {
			format = "console"
		} else {
			format = "json"
		}
	}

	if format == "console" {
		tf := cfg.TimeFormat
		if tf == "" {
			tf = time.Kitchen
		}
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: tf,
			NoColor:    cfg.NoColor,
		}
	}

	return out, nil
}

// parseLevel converts a level string to a zerolog level.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
