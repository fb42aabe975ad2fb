package usecase

import (
	"sync"
	"time"
)

// createdAtIssuer hands out strictly increasing millisecond timestamps. Two
// records created within the same millisecond would otherwise share an
// identity, and the document store keeps only millisecond precision.
type createdAtIssuer struct {
	mu   sync.Mutex
	last time.Time
}

func (i *createdAtIssuer) next(now time.Time) time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()

	t := now.Round(0).Truncate(time.Millisecond)
	if !t.After(i.last) {
		t = i.last.Add(time.Millisecond)
	}
	i.last = t
	return t
}

// observe raises the floor to t so later timestamps sort after records issued
// by an earlier process.
func (i *createdAtIssuer) observe(t time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if t = t.Round(0).Truncate(time.Millisecond); t.After(i.last) {
		i.last = t
	}
}
