package asyncache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/unkn0wn-root/asyncache/codec"
	"github.com/unkn0wn-root/asyncache/internal/util"
	"github.com/unkn0wn-root/asyncache/internal/wire"
	"github.com/unkn0wn-root/asyncache/provider"
)

const defaultNamespace = "asyncache"

// Persistence stores snapshots of present data so a restarted process can
// hydrate its resources. Only data and its timestamp are written; errors,
// loading flags and dependency snapshots are rebuilt at runtime.
type Persistence[T any] struct {
	Provider provider.Provider
	Codec    codec.Codec[T] // default codec.JSON[T]

	// Namespace prefixes every snapshot key. Default "asyncache".
	Namespace string

	// TTL bounds how long a snapshot lives in the provider. Zero uses the
	// resource's ExpireAfter when finite and keeps snapshots forever otherwise.
	TTL time.Duration
}

// Close releases the underlying provider.
func (p *Persistence[T]) Close(ctx context.Context) error {
	if p == nil || p.Provider == nil {
		return nil
	}
	return p.Provider.Close(ctx)
}

// snapshotStore is a Persistence bound to one resource.
type snapshotStore[T any] struct {
	p     provider.Provider
	codec codec.Codec[T]
	key   string
	ttl   time.Duration
}

func newSnapshotStore[T any](p *Persistence[T], resource string, expireAfter time.Duration) *snapshotStore[T] {
	if p == nil || p.Provider == nil {
		return nil
	}
	ttl := p.TTL
	if ttl == 0 && enabled(expireAfter) {
		ttl = expireAfter
	}
	if ttl == Never {
		ttl = 0
	}
	return &snapshotStore[T]{
		p:     p.Provider,
		codec: coalesce[codec.Codec[T]](p.Codec, codec.JSON[T]{}),
		key:   util.SnapshotKey(coalesce(p.Namespace, defaultNamespace), resource),
		ttl:   ttl,
	}
}

func (st *snapshotStore[T]) write(ctx context.Context, b []byte) error {
	ok, err := st.p.Set(ctx, st.key, b, st.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("asyncache: provider rejected snapshot %q", st.key)
	}
	return nil
}

// read returns the raw snapshot bytes; ok is false on a miss.
func (st *snapshotStore[T]) read(ctx context.Context) ([]byte, bool, error) {
	return st.p.Get(ctx, st.key)
}

// corrupt drops an unreadable snapshot so the next hydration does not trip on
// it again.
func (st *snapshotStore[T]) corrupt(ctx context.Context, cause error) error {
	if err := st.p.Del(ctx, st.key); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (st *snapshotStore[T]) saveResource(ctx context.Context, s ResourceState[T]) error {
	if !s.IsPresent() {
		return st.p.Del(ctx, st.key)
	}
	payload, err := st.codec.Encode(s.Data)
	if err != nil {
		return err
	}
	return st.write(ctx, wire.EncodeSingle(s.DataAt.UnixNano(), payload))
}

func (st *snapshotStore[T]) loadResource(ctx context.Context) (T, time.Time, bool, error) {
	var zero T
	b, ok, err := st.read(ctx)
	if err != nil || !ok {
		return zero, time.Time{}, false, err
	}
	at, payload, err := wire.DecodeSingle(b)
	if err != nil {
		return zero, time.Time{}, false, st.corrupt(ctx, err)
	}
	v, err := st.codec.Decode(payload)
	if err != nil {
		return zero, time.Time{}, false, st.corrupt(ctx, err)
	}
	return v, time.Unix(0, at), true, nil
}

func (st *snapshotStore[T]) saveResources(ctx context.Context, s ResourcesState[T]) error {
	keys := make([]string, 0, len(s.Items))
	for k, it := range s.Items {
		if it.IsPresent() {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return st.p.Del(ctx, st.key)
	}
	sort.Strings(keys)

	entries := make([]wire.Entry, 0, len(keys))
	for _, k := range keys {
		it := s.Items[k]
		payload, err := st.codec.Encode(it.Data)
		if err != nil {
			return fmt.Errorf("encode %q: %w", k, err)
		}
		entries = append(entries, wire.Entry{Key: k, At: it.DataAt.UnixNano(), Payload: payload})
	}
	b, err := wire.EncodeKeyed(entries)
	if err != nil {
		return err
	}
	return st.write(ctx, b)
}

type hydratedItem[T any] struct {
	Data T
	At   time.Time
}

func (st *snapshotStore[T]) loadResources(ctx context.Context) (map[string]hydratedItem[T], bool, error) {
	b, ok, err := st.read(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	entries, err := wire.DecodeKeyed(b)
	if err != nil {
		return nil, false, st.corrupt(ctx, err)
	}
	out := make(map[string]hydratedItem[T], len(entries))
	for _, e := range entries {
		v, err := st.codec.Decode(e.Payload)
		if err != nil {
			return nil, false, st.corrupt(ctx, fmt.Errorf("decode %q: %w", e.Key, err))
		}
		out[e.Key] = hydratedItem[T]{Data: v, At: time.Unix(0, e.At)}
	}
	return out, true, nil
}

func (st *snapshotStore[T]) saveCollection(ctx context.Context, s CollectionState[T]) error {
	if !s.IsPresent() {
		return st.p.Del(ctx, st.key)
	}
	payloads := make([][]byte, len(s.Items))
	for i, it := range s.Items {
		b, err := st.codec.Encode(it)
		if err != nil {
			return fmt.Errorf("encode item %d: %w", i, err)
		}
		payloads[i] = b
	}
	return st.write(ctx, wire.EncodeList(s.ItemsAt.UnixNano(), s.HasMore, payloads))
}

func (st *snapshotStore[T]) loadCollection(ctx context.Context) (Page[T], time.Time, bool, error) {
	b, ok, err := st.read(ctx)
	if err != nil || !ok {
		return Page[T]{}, time.Time{}, false, err
	}
	at, hasMore, payloads, err := wire.DecodeList(b)
	if err != nil {
		return Page[T]{}, time.Time{}, false, st.corrupt(ctx, err)
	}
	items := make([]T, len(payloads))
	for i, p := range payloads {
		v, err := st.codec.Decode(p)
		if err != nil {
			return Page[T]{}, time.Time{}, false, st.corrupt(ctx, fmt.Errorf("decode item %d: %w", i, err))
		}
		items[i] = v
	}
	return Page[T]{Items: items, HasMore: hasMore}, time.Unix(0, at), true, nil
}

// persistedEvents returns the allowlist for a shape: its base events plus
// whatever the features add, without duplicates. nil when persistence is off.
func persistedEvents[S Record[S]](on bool, fs *Features[S], base ...EventType) []EventType {
	if !on {
		return nil
	}
	events := fs.EnhancePersistEvents(base)
	seen := make(map[EventType]struct{}, len(events))
	out := events[:0:0]
	for _, e := range events {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
