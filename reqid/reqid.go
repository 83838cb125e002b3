// Package reqid generates correlation ids for in-flight collection requests.
// An id only has to differ from every other id issued by the same source while
// the request it tags can still settle.
package reqid

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Source issues request ids. Implementations must be safe for concurrent use
// and must never return "", which marks "no request in flight".
type Source interface {
	Next() string
}

// UUID issues random version 4 UUIDs. The zero value is ready to use.
type UUID struct{}

func (UUID) Next() string { return uuid.NewString() }

// Sequence issues monotonic ids "<prefix><n>" starting at 1. Useful in tests
// and logs where ordering matters more than global uniqueness.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) Next() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

// Last returns the most recently issued id, "" before the first Next.
func (s *Sequence) Last() string {
	n := s.n.Load()
	if n == 0 {
		return ""
	}
	return s.prefix + strconv.FormatUint(n, 10)
}
