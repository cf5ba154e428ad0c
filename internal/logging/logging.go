package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent = "component"
	KeyStep      = "step"
	KeyError     = "error"
)

// deferredHandler lets package-level loggers created before Init pick up the
// handler configured later. Attrs and groups are replayed onto whatever
// handler is current at the time a record is handled.
type deferredHandler struct {
	current *atomic.Pointer[slog.Handler]
	attrs   []slog.Attr
	groups  []string
}

func (h *deferredHandler) resolve() slog.Handler {
	handler := *h.current.Load()
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &deferredHandler{
		current: h.current,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups:  append([]string{}, h.groups...),
	}
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	return &deferredHandler{
		current: h.current,
		attrs:   append([]slog.Attr{}, h.attrs...),
		groups:  append(append([]string{}, h.groups...), name),
	}
}

var (
	currentHandler atomic.Pointer[slog.Handler]
	defaultLogger  *slog.Logger
)

func init() {
	var h slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	currentHandler.Store(&h)
	defaultLogger = slog.New(&deferredHandler{current: &currentHandler})
	slog.SetDefault(defaultLogger)
}

// Init configures the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stdout)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	currentHandler.Store(&handler)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithStep returns a child logger tagged with an update step.
func WithStep(logger *slog.Logger, step string) *slog.Logger {
	return logger.With(slog.String(KeyStep, step))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
