package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/tomeworks/tome/pkg/config"
)

// setupLogging installs the process-wide slog handler. The colored pretty
// sink is for interactive CLI use only; serve always logs structured text.
func setupLogging(cfg config.LoggingConfig, interactive bool) {
	level := parseLevel(cfg.Level)
	if interactive && cfg.Pretty {
		slog.SetDefault(slog.New(newPrettyHandler(level)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgHiBlack),
	slog.LevelInfo:  color.New(color.FgCyan),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

// prettyHandler renders one colored line per record for terminal use.
type prettyHandler struct {
	level slog.Level
	attrs []slog.Attr

	mu  *sync.Mutex
	out *os.File
}

func newPrettyHandler(level slog.Level) *prettyHandler {
	return &prettyHandler{level: level, mu: &sync.Mutex{}, out: os.Stderr}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *prettyHandler) Handle(_ context.Context, rec slog.Record) error {
	c, ok := levelColors[rec.Level]
	if !ok {
		c = color.New()
	}

	attrs := make(map[string]string, rec.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.String()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s",
		color.HiBlackString(rec.Time.Format(time.TimeOnly)),
		c.Sprintf("%-5s", rec.Level.String()),
		rec.Message)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", color.HiBlackString(k), attrs[k])
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.WriteString(sb.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *prettyHandler) WithGroup(string) slog.Handler {
	return h
}
