package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
)

var Logger *slog.Logger

// Options configures New.
type Options struct {
	Level slog.Level
	// Output receives the JSON records; stdout when nil.
	Output io.Writer
	// OTel fans records out to the global OTel logger provider as well.
	OTel bool
}

// InitWithOTel sets Logger, GlobalContext and the slog default from
// LOG_LEVEL, optionally exporting through OTel.
func InitWithOTel(enableOTel bool) {
	Logger = New(Options{Level: parseLevel(os.Getenv("LOG_LEVEL")), OTel: enableOTel})
	GlobalContext = NewContextLogger(Logger)
	slog.SetDefault(Logger)

	Logger.Info("Logger initialized", "otel_enabled", enableOTel)
}

// New builds the search-sync logger. Records carry trace ids and the sync
// context keys (index, record, job, chain) of the context they are logged
// with, or of the context a logger was bound to by FromContext.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler = NewTraceContextHandler(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level}))
	if opts.OTel {
		handler = &MultiHandler{handlers: []slog.Handler{
			handler,
			otelslog.NewHandler("search-sync", otelslog.WithLoggerProvider(global.GetLoggerProvider())),
		}}
	}
	return slog.New(&ContextHandler{next: handler}).With("service", "search-sync")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// ContextHandler adds the request and sync keys found in the context to each
// record. A handler bound to a context uses it in place of the one passed to
// Handle, so loggers from FromContext keep their job's trace and keys even
// when called without a context.
type ContextHandler struct {
	next  slog.Handler
	bound context.Context
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(h.context(ctx), level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	ctx = h.context(ctx)
	r.AddAttrs(contextAttrs(ctx)...)
	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs), bound: h.bound}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name), bound: h.bound}
}

func (h *ContextHandler) bind(ctx context.Context) *ContextHandler {
	return &ContextHandler{next: h.next, bound: ctx}
}

func (h *ContextHandler) context(ctx context.Context) context.Context {
	if h.bound != nil {
		return h.bound
	}
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// MultiHandler sends logs to multiple handlers
type MultiHandler struct {
	handlers []slog.Handler
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			_ = handler.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: newHandlers}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &MultiHandler{handlers: newHandlers}
}
