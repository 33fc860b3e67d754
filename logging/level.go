// Package logging configures structured logging for shaperd.
//
// Every subsystem tags its logger with a "component" attribute
// (server, manager, cache, driver, wire) and a Spec assigns each
// component its own level, so one noisy subsystem can be turned up
// without drowning the rest. A spec reads like
// "info,driver=debug,cache=trace".
package logging

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Level is a log level. Values match the slog constants, extended
// with a trace level below debug for per-operation cache detail.
type Level int

const (
	// LevelTrace is the most verbose level, below debug.
	LevelTrace Level = -8
	// LevelDebug matches slog.LevelDebug.
	LevelDebug Level = -4
	// LevelInfo matches slog.LevelInfo.
	LevelInfo Level = 0
	// LevelWarn matches slog.LevelWarn.
	LevelWarn Level = 4
	// LevelError matches slog.LevelError.
	LevelError Level = 8
)

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// ToSlog converts the level to its slog equivalent.
func (l Level) ToSlog() slog.Level {
	return slog.Level(l)
}

// String returns the level's name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Spec assigns a base level plus optional per-component overrides.
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses a spec string: a comma-separated list where a bare
// level sets the base and "component=level" entries override it. The
// empty spec means info.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{BaseLevel: LevelInfo}
	if strings.TrimSpace(s) == "" {
		return spec, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, levelStr, hasOverride := strings.Cut(part, "=")
		if !hasOverride {
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.BaseLevel = level
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return spec, fmt.Errorf("empty component in log spec entry %q", part)
		}
		level, err := ParseLevel(levelStr)
		if err != nil {
			return spec, fmt.Errorf("component %s: %w", name, err)
		}
		if spec.Components == nil {
			spec.Components = make(map[string]Level)
		}
		spec.Components[name] = level
	}
	return spec, nil
}

// LevelFor returns the effective level for a component.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// String renders the spec back into its parseable form, with
// components in stable order.
func (s Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+s.Components[name].String())
	}
	return strings.Join(parts, ",")
}
