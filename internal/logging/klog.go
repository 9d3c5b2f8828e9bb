package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"
)

// Log output formats accepted by NewLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger builds the process logger writing to w.
func NewLogger(w io.Writer, format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// RouteKlog sends client-go's klog output (reflector and watch errors, client
// throttling notices) through logger so every line shares one format.
// klog verbosity V(n) maps to slog level -n, so debug output only appears
// when the handler is at debug level.
func RouteKlog(logger *slog.Logger) {
	klog.SetLogger(logr.FromSlogHandler(logger.With(slog.String("component", "client-go")).Handler()))
}
