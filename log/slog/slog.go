//go:build go1.21

// Package slog adapts a *slog.Logger to asyncache.Logger.
package slog

import (
	"context"
	stdslog "log/slog"
	"sort"

	"github.com/unkn0wn-root/asyncache"
)

var _ asyncache.Logger = Logger{}

type Logger struct {
	L *stdslog.Logger
	// Ctx is passed to every record; nil means context.Background().
	Ctx context.Context
}

// New returns a Logger scoped to one resource.
func New(l *stdslog.Logger, resource string) Logger {
	return Logger{L: l.With(stdslog.String("asyncache.resource", resource))}
}

func (s Logger) log(level stdslog.Level, msg string, f asyncache.Fields) {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.L.Enabled(ctx, level) {
		return
	}
	s.L.LogAttrs(ctx, level, msg, attrs(f)...)
}

func (s Logger) Debug(msg string, f asyncache.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f asyncache.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f asyncache.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f asyncache.Fields) { s.log(stdslog.LevelError, msg, f) }

func attrs(f asyncache.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]stdslog.Attr, 0, len(f))
	for _, k := range keys {
		out = append(out, stdslog.Any(k, f[k]))
	}
	return out
}
