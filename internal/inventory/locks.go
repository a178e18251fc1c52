package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// LockSet hands out exclusive locks keyed by string, acquired in sorted key
// order so that overlapping sets never deadlock. Waits are bounded by the
// context and by the configured timeout.
type LockSet struct {
	mu      sync.Mutex
	locks   map[string]*lockEntry
	timeout time.Duration
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLockSet(timeout time.Duration) *LockSet {
	return &LockSet{
		locks:   make(map[string]*lockEntry),
		timeout: timeout,
	}
}

// Acquire locks every key and returns a function releasing them all.
// It fails with a ConflictError when the wait times out.
func (s *LockSet) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = uniqueSorted(keys)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	held := make([]string, 0, len(keys))
	entries := make([]*lockEntry, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-entries[i].ch
			s.unref(held[i], entries[i])
		}
	}

	for _, key := range keys {
		e := s.ref(key)
		select {
		case e.ch <- struct{}{}:
			held = append(held, key)
			entries = append(entries, e)
		case <-ctx.Done():
			s.unref(key, e)
			release()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, NewConflictError("timed out waiting for %s", key)
			}
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (s *LockSet) ref(key string) *lockEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		s.locks[key] = e
	}
	e.refs++
	return e
}

func (s *LockSet) unref(key string, e *lockEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
}

func uniqueSorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
