// Package zap adapts a *zap.Logger to asyncache.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/asyncache"
	"go.uber.org/zap"
)

var _ asyncache.Logger = Logger{}

// Logger writes engine logs through L. Errors are logged with zap.NamedError
// so they keep their structure; fields are emitted in key order.
type Logger struct{ L *zap.Logger }

// New returns a Logger scoped to one resource.
func New(l *zap.Logger, resource string) Logger {
	return Logger{L: l.With(zap.String("asyncache.resource", resource))}
}

func (z Logger) Debug(msg string, f asyncache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f asyncache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f asyncache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f asyncache.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f asyncache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case string:
			out = append(out, zap.String(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
