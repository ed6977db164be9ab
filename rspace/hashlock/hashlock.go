/*
 * Copyright 2024 The F1r3fly Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hashlock

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/dylon/f1r3fly/crypto/hash"
)

// ErrClosed is returned by TwoStep once Shutdown has been called.
var ErrClosed = errors.New("hashlock: manager closed")

const defaultIdleCacheSize = 4096

// entry is one hash's real lock plus a reference count so the idle-eviction
// cache never drops a mutex that is still pinned by an in-flight operation.
type entry struct {
	mu       sync.Mutex
	refCount int
}

// Manager grants two-step hash locks over an unbounded universe of hash.Hash
// keys using a bounded pool of real mutexes. Active (held or awaited) locks
// live in a plain map; once an entry's reference count drops to zero it is
// demoted into an LRU so long-idle channels don't pin memory forever
// (github.com/hashicorp/golang-lru).
type Manager struct {
	mu     sync.Mutex
	active map[hash.Hash]*entry
	idle   *lru.Cache
	closed bool
}

// NewManager returns a Manager whose idle-lock cache holds up to
// defaultIdleCacheSize entries.
func NewManager() *Manager {
	m, err := NewManagerSize(defaultIdleCacheSize)
	if err != nil {
		// lru.New only errors on size <= 0, which defaultIdleCacheSize never is.
		panic(err)
	}
	return m
}

// NewManagerSize returns a Manager with an explicit idle-cache size.
func NewManagerSize(size int) (*Manager, error) {
	idle, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create idle lock cache failed")
	}
	return &Manager{
		active: make(map[hash.Hash]*entry),
		idle:   idle,
	}, nil
}

// CleanUp discards every mutex sitting idle in the LRU, the maintenance op
// a caller runs between resets to stop long-idle channels from pinning
// memory. It does not affect locks currently held, and it never closes the
// Manager — TwoStep keeps granting locks after CleanUp returns.
func (m *Manager) CleanUp() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle.Purge()
}

// Shutdown purges the idle-lock cache and permanently closes the Manager:
// every subsequent TwoStep call returns ErrClosed. Callers must ensure no
// TwoStep call is in flight.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.idle.Purge()
}

func (m *Manager) pin(h hash.Hash) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[h]; ok {
		e.refCount++
		return e
	}
	var e *entry
	if v, ok := m.idle.Get(h); ok {
		e = v.(*entry)
		m.idle.Remove(h)
	} else {
		e = &entry{}
	}
	e.refCount++
	m.active[h] = e
	return e
}

func (m *Manager) unpin(h hash.Hash, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refCount--
	if e.refCount == 0 {
		delete(m.active, h)
		m.idle.Add(h, e)
	}
}

// acquireAll blocks until every hash in ascending, deduplicated order is
// locked, respecting ctx cancellation. Locking strictly in ascending hash
// order is what keeps any set of concurrent acquireAll calls deadlock-free:
// no two operations can each be waiting on a lock the other already holds,
// because both approach the shared universe of hashes from the same
// direction.
func (m *Manager) acquireAll(ctx context.Context, ordered []hash.Hash) ([]*entry, error) {
	held := make([]*entry, 0, len(ordered))
	for _, h := range ordered {
		e := m.pin(h)
		if err := lockCtx(ctx, &e.mu); err != nil {
			m.unpin(h, e)
			m.releaseAll(ordered[:len(held)], held)
			return nil, err
		}
		held = append(held, e)
	}
	return held, nil
}

// tryAcquireAll attempts to lock every hash in ordered without blocking. On
// the first failure it unwinds everything it had already taken and reports
// ok=false so the caller can release its phase-A locks and retry, rather
// than risk a partial hold that could deadlock against another operation's
// expansion.
func (m *Manager) tryAcquireAll(ordered []hash.Hash) (held []*entry, ok bool) {
	held = make([]*entry, 0, len(ordered))
	for _, h := range ordered {
		e := m.pin(h)
		if !e.mu.TryLock() {
			m.unpin(h, e)
			m.releaseAll(ordered[:len(held)], held)
			return nil, false
		}
		held = append(held, e)
	}
	return held, true
}

func (m *Manager) releaseAll(hs []hash.Hash, held []*entry) {
	for i := len(held) - 1; i >= 0; i-- {
		held[i].mu.Unlock()
		m.unpin(hs[i], held[i])
	}
}

// TwoStep runs thunk while holding locks for the union of initial and
// whatever expand reports:
//
//  1. Phase A locks initial (sorted, deduplicated) in ascending order.
//  2. With phase A held, expand is called to compute the data-dependent
//     extra set (e.g. join partners visible once the initial channels'
//     state can be read safely).
//  3. Phase B tries to additionally lock every extra hash not already held.
//     If any is unavailable, TwoStep releases everything acquired so far
//     and restarts phase A with extra folded into the next attempt's
//     initial set, rather than block while holding a partial set.
//  4. Once the full set is held, thunk runs; all locks are released
//     afterward regardless of thunk's error.
//
// This is deliberately two cooperating primitives, not one monitor: a
// single lock around the whole operation would serialize produces and
// consumes on entirely disjoint channels, which defeats the purpose of
// keying locks by channel hash in the first place.
func (m *Manager) TwoStep(ctx context.Context, initial []hash.Hash, expand func() ([]hash.Hash, error), thunk func() error) error {
	want := dedupSorted(initial)
	for {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return ErrClosed
		}

		held, err := m.acquireAll(ctx, want)
		if err != nil {
			return err
		}

		extra, err := expand()
		if err != nil {
			m.releaseAll(want, held)
			return err
		}

		missing := subtractSorted(dedupSorted(extra), want)
		if len(missing) == 0 {
			err := thunk()
			m.releaseAll(want, held)
			return err
		}

		extraHeld, ok := m.tryAcquireAll(missing)
		if !ok {
			m.releaseAll(want, held)
			want = mergeSorted(want, missing)
			continue
		}

		full := append(append([]hash.Hash(nil), want...), missing...)
		fullHeld := append(append([]*entry(nil), held...), extraHeld...)
		err = thunk()
		m.releaseAll(full, fullHeld)
		return err
	}
}

func lockCtx(ctx context.Context, mu *sync.Mutex) error {
	if mu.TryLock() {
		return nil
	}
	const backoff = 200 * time.Microsecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			if mu.TryLock() {
				return nil
			}
		}
	}
}

func dedupSorted(hs []hash.Hash) []hash.Hash {
	return hash.DedupSorted(hash.SortHashes(hs))
}

// subtractSorted returns the elements of b (sorted, deduplicated) not
// present in a (also sorted, deduplicated), preserving order.
func subtractSorted(b, a []hash.Hash) []hash.Hash {
	in := make(map[hash.Hash]struct{}, len(a))
	for _, h := range a {
		in[h] = struct{}{}
	}
	out := make([]hash.Hash, 0, len(b))
	for _, h := range b {
		if _, ok := in[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// mergeSorted returns the sorted, deduplicated union of a and b.
func mergeSorted(a, b []hash.Hash) []hash.Hash {
	out := make([]hash.Hash, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return hash.DedupSorted(out)
}
