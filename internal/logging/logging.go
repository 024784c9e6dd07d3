// Package logging configures the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init sets the default slog logger. The level comes from the
// CRASHWATCH_LOG_LEVEL env var; a -log-level (or --log-level) flag
// overrides it. The flag is consumed here and stripped from the returned
// args so later flag parsing never sees it.
func Init(args []string) []string {
	level := os.Getenv("CRASHWATCH_LOG_LEVEL")

	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		v, ok := levelFlag(args[i])
		if !ok {
			rest = append(rest, args[i])
			continue
		}
		if v == "" && i+1 < len(args) {
			i++
			v = args[i]
		}
		if v != "" {
			level = v
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)})
	slog.SetDefault(slog.New(handler))
	return rest
}

// levelFlag matches -log-level and --log-level. The value is empty when the
// flag expects it in the next argument.
func levelFlag(arg string) (value string, ok bool) {
	name := strings.TrimLeft(arg, "-")
	if name == arg {
		return "", false
	}
	if name == "log-level" {
		return "", true
	}
	if v, found := strings.CutPrefix(name, "log-level="); found {
		return v, true
	}
	return "", false
}

// ParseLevel maps a level string to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default: // "info", empty, or anything unrecognised
		return slog.LevelInfo
	}
}
