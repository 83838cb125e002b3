// Package logrus adapts a *logrus.Entry to asyncache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/asyncache"
)

var _ asyncache.Logger = Logger{}

// Logger writes engine logs through E. An "err" field is attached with
// WithError so logrus formatters treat it as the entry's error.
type Logger struct{ E *logrus.Entry }

// New returns a Logger scoped to one resource.
func New(l *logrus.Logger, resource string) Logger {
	return Logger{E: l.WithField("asyncache.resource", resource)}
}

func (l Logger) entry(f asyncache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	fs := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			fs[logrus.ErrorKey] = err
			continue
		}
		fs[k] = v
	}
	return l.E.WithFields(fs)
}

func (l Logger) Debug(msg string, f asyncache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f asyncache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f asyncache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f asyncache.Fields) { l.entry(f).Error(msg) }
