package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-shaperman/logging"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    logging.Spec
		wantErr string
	}{
		{
			name:  "empty means info",
			input: "",
			want:  logging.Spec{BaseLevel: logging.LevelInfo},
		},
		{
			name:  "bare level",
			input: "warn",
			want:  logging.Spec{BaseLevel: logging.LevelWarn},
		},
		{
			name:  "base plus overrides",
			input: "info,driver=debug,cache=trace",
			want: logging.Spec{
				BaseLevel: logging.LevelInfo,
				Components: map[string]logging.Level{
					"driver": logging.LevelDebug,
					"cache":  logging.LevelTrace,
				},
			},
		},
		{
			name:  "whitespace tolerated",
			input: " warn , manager=debug ",
			want: logging.Spec{
				BaseLevel:  logging.LevelWarn,
				Components: map[string]logging.Level{"manager": logging.LevelDebug},
			},
		},
		{
			name:    "bad level",
			input:   "info,driver=loud",
			wantErr: "unknown log level",
		},
		{
			name:    "empty component",
			input:   "=debug",
			wantErr: "empty component",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := logging.ParseSpec(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSpec_String(t *testing.T) {
	spec, err := logging.ParseSpec("warn,wire=trace,driver=debug")
	require.NoError(t, err)
	assert.Equal(t, "warn,driver=debug,wire=trace", spec.String())

	reparsed, err := logging.ParseSpec(spec.String())
	require.NoError(t, err)
	assert.Equal(t, spec, reparsed)
}

func TestFilteringHandler_Enabled(t *testing.T) {
	spec := &logging.Spec{
		BaseLevel: logging.LevelWarn,
		Components: map[string]logging.Level{
			"manager": logging.LevelDebug,
			"cache":   logging.LevelTrace,
		},
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	handler := logging.NewFilteringHandler(inner, spec)

	ctx := context.Background()

	// No component falls back to the base level.
	assert.False(t, handler.Enabled(ctx, slog.LevelInfo))
	assert.True(t, handler.Enabled(ctx, slog.LevelWarn))

	managerHandler := handler.WithAttrs([]slog.Attr{slog.String("component", "manager")})
	assert.True(t, managerHandler.Enabled(ctx, slog.LevelDebug))
	assert.False(t, managerHandler.Enabled(ctx, logging.LevelTrace.ToSlog()))

	cacheHandler := handler.WithAttrs([]slog.Attr{slog.String("component", "cache")})
	assert.True(t, cacheHandler.Enabled(ctx, logging.LevelTrace.ToSlog()))
}

func TestFilteringHandler_Handle(t *testing.T) {
	spec := &logging.Spec{
		BaseLevel:  logging.LevelWarn,
		Components: map[string]logging.Level{"manager": logging.LevelDebug},
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	handler := logging.NewFilteringHandler(inner, spec)

	ctx := context.Background()

	buf.Reset()
	r := slog.NewRecord(testTime(), slog.LevelDebug, "debug message", 0)
	require.NoError(t, handler.Handle(ctx, r))
	assert.Empty(t, buf.String())

	buf.Reset()
	r = slog.NewRecord(testTime(), slog.LevelWarn, "warn message", 0)
	require.NoError(t, handler.Handle(ctx, r))
	assert.Contains(t, buf.String(), "warn message")

	managerHandler := handler.WithAttrs([]slog.Attr{slog.String("component", "manager")})
	buf.Reset()
	r = slog.NewRecord(testTime(), slog.LevelDebug, "manager debug", 0)
	require.NoError(t, managerHandler.Handle(ctx, r))
	assert.Contains(t, buf.String(), "manager debug")
}

func TestFilteringHandler_WithGroupKeepsComponent(t *testing.T) {
	spec := &logging.Spec{
		BaseLevel:  logging.LevelInfo,
		Components: map[string]logging.Level{"driver": logging.LevelDebug},
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	handler := logging.NewFilteringHandler(inner, spec)

	driverHandler := handler.WithAttrs([]slog.Attr{slog.String("component", "driver")})
	groupHandler := driverHandler.WithGroup("request")

	assert.True(t, groupHandler.Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_ComponentFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		CLISpec: "warn,manager=debug,cache=trace",
		Output:  &buf,
	})
	require.NoError(t, err)

	buf.Reset()
	logger.Debug("root debug")
	assert.Empty(t, buf.String())

	buf.Reset()
	logger.Warn("root warn")
	assert.Contains(t, buf.String(), "root warn")

	managerLogger := logger.With("component", "manager")
	buf.Reset()
	managerLogger.Debug("manager debug")
	assert.Contains(t, buf.String(), "manager debug")

	cacheLogger := logger.With("component", "cache")
	buf.Reset()
	cacheLogger.Log(context.Background(), logging.LevelTrace.ToSlog(), "cache trace")
	assert.Contains(t, buf.String(), "cache trace")

	// Components without an override inherit the base level.
	wireLogger := logger.With("component", "wire")
	buf.Reset()
	wireLogger.Info("wire info")
	assert.Empty(t, buf.String())
}

func TestNew_Precedence(t *testing.T) {
	tests := []struct {
		name      string
		opts      logging.Options
		wantLevel logging.Level
	}{
		{
			name:      "cli beats env",
			opts:      logging.Options{CLISpec: "error", EnvSpec: "debug", ConfigSpec: "info"},
			wantLevel: logging.LevelError,
		},
		{
			name:      "env beats config",
			opts:      logging.Options{EnvSpec: "debug", ConfigSpec: "warn"},
			wantLevel: logging.LevelDebug,
		},
		{
			name:      "config used last",
			opts:      logging.Options{ConfigSpec: "warn"},
			wantLevel: logging.LevelWarn,
		},
		{
			name:      "default is info",
			opts:      logging.Options{},
			wantLevel: logging.LevelInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf

			logger, err := logging.New(tt.opts)
			require.NoError(t, err)

			ctx := context.Background()

			buf.Reset()
			logger.Log(ctx, tt.wantLevel.ToSlog(), "at level")
			assert.NotEmpty(t, buf.String())

			buf.Reset()
			logger.Log(ctx, logging.Level(int(tt.wantLevel)-4).ToSlog(), "below level")
			assert.Empty(t, buf.String())
		})
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := logging.New(logging.Options{CLISpec: "shout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log spec")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    logging.Format
		wantErr bool
	}{
		{"text", logging.FormatText, false},
		{"json", logging.FormatJSON, false},
		{"JSON", logging.FormatJSON, false},
		{"", logging.FormatText, false},
		{"yaml", logging.FormatText, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := logging.ParseFormat(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		CLISpec: "info",
		Format:  logging.FormatJSON,
		Output:  &buf,
	})
	require.NoError(t, err)

	logger.Info("test message", "key", "value")
	output := buf.String()

	assert.True(t, strings.HasPrefix(output, "{"))
	assert.Contains(t, output, `"msg":"test message"`)
	assert.Contains(t, output, `"key":"value"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    logging.Level
		wantErr bool
	}{
		{"trace", logging.LevelTrace, false},
		{"debug", logging.LevelDebug, false},
		{"info", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"err", logging.LevelError, false},
		{"ERROR", logging.LevelError, false},
		{"  warn  ", logging.LevelWarn, false},
		{"loud", logging.LevelInfo, true},
		{"", logging.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func testTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}
