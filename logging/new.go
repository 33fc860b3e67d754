package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvSpecVar names the environment variable carrying the log spec.
const EnvSpecVar = "SHAPERD_LOG"

// EnvFormatVar names the environment variable carrying the format.
const EnvFormatVar = "SHAPERD_LOG_FORMAT"

// Format selects the log output encoding.
type Format string

const (
	// FormatText is human-readable key=value output.
	FormatText Format = "text"
	// FormatJSON is one JSON object per record.
	FormatJSON Format = "json"
)

// ParseFormat parses a format name, case-insensitively. The empty
// string means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures the logger factory.
type Options struct {
	// CLISpec is the spec from a command line flag, highest
	// precedence.
	CLISpec string
	// EnvSpec is the spec from SHAPERD_LOG.
	EnvSpec string
	// ConfigSpec is the spec from the config file, lowest precedence.
	ConfigSpec string
	// Format selects text or json output.
	Format Format
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds a logger with per-component filtering. Spec precedence
// is CLI over environment over config file.
func New(opts Options) (*slog.Logger, error) {
	specStr := ""
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	case opts.ConfigSpec != "":
		specStr = opts.ConfigSpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	// The inner handler passes everything; the filtering wrapper is
	// the single place levels are decided.
	handlerOpts := &slog.HandlerOptions{Level: LevelTrace.ToSlog()}
	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Default builds a logger with default settings: info, text, stdout.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}

// FromEnv builds a logger from SHAPERD_LOG and SHAPERD_LOG_FORMAT.
func FromEnv() (*slog.Logger, error) {
	format, err := ParseFormat(os.Getenv(EnvFormatVar))
	if err != nil {
		return nil, err
	}
	return New(Options{
		EnvSpec: os.Getenv(EnvSpecVar),
		Format:  format,
	})
}
