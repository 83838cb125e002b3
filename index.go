package asyncache

import "time"

// indexKind selects one of the keyed collection's earliest-candidate indexes.
type indexKind int

const (
	indexExpiring indexKind = iota
	indexRetrying
	indexStale
)

// candidateAt returns the timestamp item competes with in the given index and
// whether it is eligible at all.
func candidateAt[T any](kind indexKind, it ResourceState[T]) (time.Time, bool) {
	if it.IsLoading {
		return time.Time{}, false
	}
	switch kind {
	case indexExpiring:
		return it.DataAt, it.IsPresent()
	case indexStale:
		return it.DataAt, it.IsPresent() && !it.IsStale
	case indexRetrying:
		return it.ErrorAt, it.HasError() && !it.ReadyForRetry && !it.ErrorIsPermanent
	}
	return time.Time{}, false
}

func candidateFor[T any](kind indexKind, key string, it ResourceState[T], present bool) *Candidate {
	if !present {
		return nil
	}
	at, ok := candidateAt(kind, it)
	if !ok {
		return nil
	}
	return &Candidate{Key: key, At: at}
}

// scanIndex finds the eligible item with the minimal (At, Key).
func scanIndex[T any](kind indexKind, items map[string]ResourceState[T]) *Candidate {
	var best *Candidate
	for k, it := range items {
		c := candidateFor(kind, k, it, true)
		if c != nil && (best == nil || c.before(best)) {
			best = c
		}
	}
	return best
}

// updateIndex returns the index after the item at key changed. Every other
// item is unchanged, so unless key was the candidate itself the new minimum is
// the smaller of the old candidate and the item's new entry.
func updateIndex[T any](kind indexKind, cur *Candidate, key string, items map[string]ResourceState[T]) *Candidate {
	if cur != nil && cur.Key == key {
		return scanIndex(kind, items)
	}
	it, present := items[key]
	next := candidateFor(kind, key, it, present)
	if next != nil && (cur == nil || next.before(cur)) {
		return next
	}
	return cur
}

// indexSet records which indexes a keyed collection maintains; disabled
// features leave theirs nil.
type indexSet struct {
	expiring, retrying, stale bool
}

func reindex[T any](ix indexSet, s ResourcesState[T], key string) ResourcesState[T] {
	if ix.expiring {
		s.NextExpiring = updateIndex(indexExpiring, s.NextExpiring, key, s.Items)
	}
	if ix.retrying {
		s.NextRetrying = updateIndex(indexRetrying, s.NextRetrying, key, s.Items)
	}
	if ix.stale {
		s.NextStale = updateIndex(indexStale, s.NextStale, key, s.Items)
	}
	return s
}

func rebuildIndexes[T any](ix indexSet, s ResourcesState[T]) ResourcesState[T] {
	s.NextExpiring, s.NextRetrying, s.NextStale = nil, nil, nil
	if ix.expiring {
		s.NextExpiring = scanIndex(indexExpiring, s.Items)
	}
	if ix.retrying {
		s.NextRetrying = scanIndex(indexRetrying, s.Items)
	}
	if ix.stale {
		s.NextStale = scanIndex(indexStale, s.Items)
	}
	return s
}
