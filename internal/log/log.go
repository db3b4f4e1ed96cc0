package log

import (
	"context"
	"log/slog"
	"os"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler enriches every record with the attributes stored in the
// context via ContextAttrs. The engine attaches test_run_id, phase and module
// attributes this way, so module and checker code can log through plain slog
// calls and still be attributable.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// WithTestRun tags ctx with the test run id.
func WithTestRun(ctx context.Context, testRunID string) context.Context {
	return ContextAttrs(ctx, slog.String("test_run_id", testRunID))
}

// WithModule tags ctx with a module's short and instance names.
func WithModule(ctx context.Context, name, instance string) context.Context {
	return ContextAttrs(ctx,
		slog.String("module", name),
		slog.String("instance", instance),
	)
}

func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	ctxHandler := NewContextHandler(base)
	return slog.New(ctxHandler)
}
