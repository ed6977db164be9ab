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

package history

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/dylon/f1r3fly/crypto/hash"
)

// MemRepository is a toy Repository using memory as storage. It never
// touches disk; Space uses it by default and it is what the engine's unit
// tests exercise directly.
type MemRepository struct {
	mu    sync.RWMutex
	roots map[hash.Hash]*memSnapshot
	seq   uint64
	empty hash.Hash
}

type memSnapshot struct {
	base          hash.Hash
	data          map[hash.Hash][]StoredDatum
	continuations map[hash.Hash][]StoredContinuation
	joins         map[hash.Hash][]hash.Hash
	tuples        map[hash.Hash][]interface{}
}

// NewMemRepository returns a Repository rooted at the canonical empty state.
func NewMemRepository() *MemRepository {
	empty := hash.HashH([]byte("rspace:empty-root"))
	r := &MemRepository{
		roots: make(map[hash.Hash]*memSnapshot, 16),
		empty: empty,
	}
	r.roots[empty] = &memSnapshot{
		base:          empty,
		data:          make(map[hash.Hash][]StoredDatum),
		continuations: make(map[hash.Hash][]StoredContinuation),
		joins:         make(map[hash.Hash][]hash.Hash),
		tuples:        make(map[hash.Hash][]interface{}),
	}
	return r
}

// EmptyRoot implements Repository.
func (r *MemRepository) EmptyRoot() hash.Hash { return r.empty }

// GetHistoryReader implements Repository.
func (r *MemRepository) GetHistoryReader(root hash.Hash) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.roots[root]
	if !ok {
		return nil, ErrRootNotFound
	}
	return &memReader{snap: snap}, nil
}

// Checkpoint implements Repository. The new root is a deterministic,
// monotonically-advancing digest chained from the parent root; content
// addressing of the Merkle/trie layout that a production history would use
// is explicitly out of scope.
func (r *MemRepository) Checkpoint(root hash.Hash, delta *Delta) (hash.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.roots[root]
	if !ok {
		return hash.Hash{}, ErrRootNotFound
	}

	next := &memSnapshot{
		data:          cloneData(parent.data),
		continuations: cloneConts(parent.continuations),
		joins:         cloneJoins(parent.joins),
		tuples:        cloneTuples(parent.tuples),
	}
	// Every touched key in delta already carries its full post-mutation
	// content (the hot store seeds from a read-through before mutating), so
	// it replaces the parent's entry rather than extending it.
	for h, list := range delta.Data {
		next.data[h] = append([]StoredDatum(nil), list...)
	}
	for h, list := range delta.Continuations {
		next.continuations[h] = append([]StoredContinuation(nil), list...)
	}
	for h, list := range delta.Joins {
		next.joins[h] = append([]hash.Hash(nil), list...)
	}
	for h, tuple := range delta.Tuples {
		next.tuples[h] = tuple
	}

	seq := atomic.AddUint64(&r.seq, 1)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	newRoot := hash.HashH(append(root.CloneBytes(), seqBytes[:]...))
	next.base = newRoot
	r.roots[newRoot] = next
	return newRoot, nil
}

// Close implements Repository; MemRepository holds no external resources.
func (r *MemRepository) Close() error { return nil }

type memReader struct {
	snap *memSnapshot
}

func (m *memReader) GetData(c hash.Hash) ([]StoredDatum, error) {
	return append([]StoredDatum(nil), m.snap.data[c]...), nil
}

func (m *memReader) GetContinuations(cs hash.Hash) ([]StoredContinuation, error) {
	return append([]StoredContinuation(nil), m.snap.continuations[cs]...), nil
}

func (m *memReader) GetJoins(c hash.Hash) ([]hash.Hash, error) {
	return append([]hash.Hash(nil), m.snap.joins[c]...), nil
}

func (m *memReader) GetTuple(th hash.Hash) ([]interface{}, error) {
	tuple, ok := m.snap.tuples[th]
	if !ok {
		return nil, nil
	}
	return append([]interface{}(nil), tuple...), nil
}

func (m *memReader) Base() hash.Hash { return m.snap.base }

func cloneData(in map[hash.Hash][]StoredDatum) map[hash.Hash][]StoredDatum {
	out := make(map[hash.Hash][]StoredDatum, len(in))
	for h, list := range in {
		out[h] = append([]StoredDatum(nil), list...)
	}
	return out
}

func cloneConts(in map[hash.Hash][]StoredContinuation) map[hash.Hash][]StoredContinuation {
	out := make(map[hash.Hash][]StoredContinuation, len(in))
	for h, list := range in {
		out[h] = append([]StoredContinuation(nil), list...)
	}
	return out
}

func cloneJoins(in map[hash.Hash][]hash.Hash) map[hash.Hash][]hash.Hash {
	out := make(map[hash.Hash][]hash.Hash, len(in))
	for h, list := range in {
		out[h] = append([]hash.Hash(nil), list...)
	}
	return out
}

func cloneTuples(in map[hash.Hash][]interface{}) map[hash.Hash][]interface{} {
	out := make(map[hash.Hash][]interface{}, len(in))
	for h, tuple := range in {
		out[h] = append([]interface{}(nil), tuple...)
	}
	return out
}

func mergeJoins(existing, add []hash.Hash) []hash.Hash {
	seen := make(map[hash.Hash]struct{}, len(existing))
	out := append([]hash.Hash(nil), existing...)
	for _, h := range existing {
		seen[h] = struct{}{}
	}
	for _, h := range add {
		if _, ok := seen[h]; !ok {
			out = append(out, h)
			seen[h] = struct{}{}
		}
	}
	return out
}
