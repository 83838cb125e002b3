// Package sloghook logs engine hooks through log/slog.
package sloghook

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/asyncache"
	"github.com/unkn0wn-root/asyncache/internal/util"
)

type Options struct {
	// Sampling for the hot callbacks; 0/1 = log all.
	EventAppliedEvery uint64
	CheckFiredEvery   uint64
	// Optional item-key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	appliedCtr atomic.Uint64
	checkCtr   atomic.Uint64
}

var _ asyncache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if k == "" {
		return ""
	}
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.ShortHash(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) EventApplied(resource string, event asyncache.EventType, key string) {
	if h.l == nil || !sample(h.opts.EventAppliedEvery, &h.appliedCtr) {
		return
	}
	h.l.Debug("asyncache.event_applied",
		"resource", resource,
		"event", string(event),
		"key", h.redact(key))
}

func (h *Hooks) CheckFired(resource, check, key string) {
	if h.l == nil || !sample(h.opts.CheckFiredEvery, &h.checkCtr) {
		return
	}
	h.l.Debug("asyncache.check_fired",
		"resource", resource,
		"check", check,
		"key", h.redact(key))
}

func (h *Hooks) FetchFailed(resource, key string, err error, permanent bool) {
	if h.l == nil {
		return
	}
	h.l.Info("asyncache.fetch_failed",
		"resource", resource,
		"key", h.redact(key),
		"permanent", permanent,
		"err", err)
}

func (h *Hooks) ResultDiscarded(resource, op, requestID string) {
	if h.l == nil {
		return
	}
	h.l.Debug("asyncache.result_discarded",
		"resource", resource,
		"op", op,
		"request_id", requestID)
}

func (h *Hooks) PersistError(resource string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("asyncache.persist_error",
		"resource", resource,
		"err", err)
}

func (h *Hooks) ReactionLimit(resource string, limit int) {
	if h.l == nil {
		return
	}
	h.l.Warn("asyncache.reaction_limit",
		"resource", resource,
		"limit", limit)
}
