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

// Package history provides a read-only view of the tuplespace's committed
// state at a root hash, and a Repository capable of
// handing out such views and of folding a hot-store delta into a new root
// (checkpointing). This package never mutates anything a live Reader has
// already handed out; it is consumed by rspace through the narrow
// interface below and nothing else.
package history

import (
	"github.com/dylon/f1r3fly/crypto/hash"
)

// StoredDatum is one persisted datum at a channel.
type StoredDatum struct {
	Payload interface{}
	Persist bool
	Source  hash.Hash
}

// StoredContinuation is one persisted waiting continuation at a channel
// tuple.
type StoredContinuation struct {
	Patterns []interface{}
	K        interface{}
	Persist  bool
	Peeks    []int
	Source   hash.Hash
}

// Reader is a read-only snapshot of the persisted state at one root hash.
// Concurrent readers are always safe; nothing here can mutate state.
type Reader interface {
	GetData(c hash.Hash) ([]StoredDatum, error)
	GetContinuations(cs hash.Hash) ([]StoredContinuation, error)
	GetJoins(c hash.Hash) ([]hash.Hash, error)
	// GetTuple resolves a channel-tuple hash (as handed out by GetJoins)
	// back to the opaque tuple members recorded for it, or nil if this
	// root never saw that tuple. history stores the tuple as plain
	// interface{} values, the same way Payload and K travel through
	// Delta — it has no notion of what a "channel" is, only that some
	// caller wants a hash resolved back to the values it was built from.
	GetTuple(th hash.Hash) ([]interface{}, error)
	// Base returns the root hash this Reader was obtained for.
	Base() hash.Hash
}

// Delta is the hot-store overlay handed to a Repository at checkpoint time.
// Every map is keyed by the stable hash of the channel or channel tuple it
// describes.
type Delta struct {
	Data          map[hash.Hash][]StoredDatum
	Continuations map[hash.Hash][]StoredContinuation
	Joins         map[hash.Hash][]hash.Hash
	// Tuples records, for every channel tuple touched this session, the
	// tuple's own members under their combined hash — the only way a join
	// hash handed out by GetJoins can be resolved back to a tuple once the
	// live side table that remembered it has been reset.
	Tuples map[hash.Hash][]interface{}
}

// Repository is the persisted, root-addressed state store.
type Repository interface {
	// GetHistoryReader returns a Reader for root. Implementations must
	// support concurrent calls for distinct and identical roots alike.
	GetHistoryReader(root hash.Hash) (Reader, error)
	// Checkpoint folds delta atop root and returns the resulting new root.
	Checkpoint(root hash.Hash, delta *Delta) (hash.Hash, error)
	// EmptyRoot returns the canonical empty-state root.
	EmptyRoot() hash.Hash
	// Close releases any resources (file handles, connections) held by
	// the repository.
	Close() error
}
