// Package log provides logging utilities.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"

	"github.com/ghettovoice/green"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(t *green.Timeout) slog.Value {
		return slog.GroupValue(
			slog.String("ptr", fmt.Sprintf("%p", t)),
			slog.Any("duration", t.Duration()),
			slog.Bool("pending", t.Pending()),
			slog.Bool("silent", t.Silent()),
		)
	}),
	slogformatter.FormatByType(func(task green.Task) slog.Value {
		return slog.GroupValue(
			slog.String("id", task.ID()),
			slog.String("name", task.Name()),
		)
	}),
)

// Def is a default logger.
var Def = slog.New(newHandler(
	console.NewHandler(os.Stdout, &console.HandlerOptions{
		AddSource:  true,
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339Nano,
	}),
))

// Dev is a developer logger.
var Dev = slog.New(newHandler(
	devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{
			AddSource: true,
			Level:     slog.LevelDebug,
		},
		SortKeys:   true,
		TimeFormat: time.RFC3339Nano,
	}),
))

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a noop logger.
var Noop = slog.New(noopHandler{})

var def atomic.Pointer[slog.Logger]

func init() {
	def.Store(Noop)
}

// Default returns the package default logger.
// It is the [Noop] logger unless overridden with [SetDefault].
func Default() *slog.Logger { return def.Load() }

// SetDefault overrides the package default logger.
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Noop
	}
	def.Store(l)
}
