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

package rspace

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/dylon/f1r3fly/crypto/hash"
)

// Channel is an opaque, hashable key under which data are published and
// patterns are registered. Implementations must give a canonical byte
// encoding: two channels are equivalent iff their encodings match.
type Channel interface {
	CanonicalBytes() []byte
}

func init() {
	// StrChan travels through history.Delta.Tuples as a bare interface{}
	// element (the same boundary Datum.A and WaitingContinuation.K already
	// cross), so gob needs it registered before a checkpointed tuple can
	// round-trip through a durable Repository. Callers supplying their own
	// Channel implementation must register it the same way.
	gob.Register(StrChan(""))
}

// StrChan is the common-case Channel: a plain string name, the way most
// rho-calculus examples name channels ("stdout", "@0", ...).
type StrChan string

// CanonicalBytes implements Channel.
func (s StrChan) CanonicalBytes() []byte { return []byte(s) }

// HashChannel returns the stable hash of a channel, used for lock keys and
// content addressing.
func HashChannel(c Channel) hash.Hash {
	return hash.HashH(c.CanonicalBytes())
}

// HashChannels returns the stable hash of an ordered channel tuple, used to
// key joins, continuation storage and the two-step hash lock's "extra" set
// for a join.
func HashChannels(cs []Channel) hash.Hash {
	var buf bytes.Buffer
	for _, c := range cs {
		b := c.CanonicalBytes()
		fmt.Fprintf(&buf, "%d:", len(b))
		buf.Write(b)
	}
	return hash.HashH(buf.Bytes())
}

// structuralBytes produces a deterministic byte encoding of an arbitrary
// pattern/continuation/datum payload for structural hashing. gob is used
// rather than a third-party codec: payloads here are caller-defined, often
// small scalar or struct values with no canonical wire format of their own,
// and no generic reflection-based canonical encoder fits a schema this open
// without tying every caller to a fixed wire format.
func structuralBytes(v interface{}) []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	// gob cannot encode nil interfaces or some values (e.g. funcs); fall
	// back to a type-tagged placeholder rather than failing structural
	// hashing, which must never error.
	if v == nil {
		return []byte("<nil>")
	}
	if err := enc.Encode(v); err != nil {
		return []byte(fmt.Sprintf("%#v", v))
	}
	return buf.Bytes()
}

// Produce is a reference to one producer call: the channel it targeted,
// the data it carried, and whether that datum survives a match. Two
// Produce values with the same fields hash identically — the hashing is
// structural, not identity-based — so the same logical produce call
// replays to the same reference across checkpoints.
type Produce struct {
	Channel Channel
	Data    interface{}
	Persist bool
}

// Ref returns the structural hash of this Produce, used as its identity in
// the event log, the produce counter, and peer-process replay.
func (p Produce) Ref() hash.Hash {
	var buf bytes.Buffer
	buf.Write(p.Channel.CanonicalBytes())
	buf.Write(structuralBytes(p.Data))
	if p.Persist {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return hash.HashH(buf.Bytes())
}

// Consume is a reference to one consume/install call: the channel tuple,
// the patterns registered on it, the continuation, and persistence.
type Consume struct {
	Channels []Channel
	Patterns []interface{}
	K        interface{}
	Persist  bool
}

// Ref returns the structural hash of this Consume.
func (c Consume) Ref() hash.Hash {
	var buf bytes.Buffer
	for _, ch := range c.Channels {
		buf.Write(ch.CanonicalBytes())
	}
	for _, p := range c.Patterns {
		buf.Write(structuralBytes(p))
	}
	buf.Write(structuralBytes(c.K))
	if c.Persist {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return hash.HashH(buf.Bytes())
}

// Datum is a produced payload sitting in the store: its value, whether it
// survives a match, and a reference back to the Produce call that created
// it.
type Datum struct {
	A       interface{}
	Persist bool
	Source  hash.Hash
}

// PeekSet is a sorted set of channel indices whose matched datum must be
// retained even on a non-persistent match. Peek status is tracked per
// pattern *position*, not per channel value, so a channel repeated at two
// positions within one Consume call can have independent peek behavior at
// each (see DESIGN.md).
type PeekSet map[int]struct{}

// NewPeekSet builds a PeekSet from a slice of indices.
func NewPeekSet(idx ...int) PeekSet {
	s := make(PeekSet, len(idx))
	for _, i := range idx {
		s[i] = struct{}{}
	}
	return s
}

// Sorted returns the indices of the set in ascending order.
func (s PeekSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Has reports whether index i is a peek position.
func (s PeekSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// WaitingContinuation is one continuation awaiting data on a tuple of
// channels.
type WaitingContinuation struct {
	Patterns []interface{}
	K        interface{}
	Persist  bool
	Peeks    PeekSet
	Source   hash.Hash // the Consume ref that created this WC
}

// Install is a pre-registered, always-persistent continuation re-applied
// on every Reset.
type Install struct {
	Channels []Channel
	Patterns []interface{}
	K        interface{}
}

// COMM records one communication event: the consume that fired, the
// produces it matched (one per channel, in channel order), which of those
// matches were peeks, and how many times each matched produce has now been
// consumed from since the last reset/soft-checkpoint.
type COMM struct {
	Consume       hash.Hash
	Produces      []hash.Hash
	Peeks         PeekSet
	TimesRepeated map[hash.Hash]int
}

// EventKind tags the three event shapes recorded in the per-session event
// log.
type EventKind int

const (
	// EventConsume records a consume call that did not immediately match.
	EventConsume EventKind = iota
	// EventProduce records a produce call that did not immediately match.
	EventProduce
	// EventComm records a successful match.
	EventComm
)

// Event is one entry of the event log.
type Event struct {
	Kind    EventKind
	Consume *Consume
	Produce *Produce
	Comm    *COMM
}

// ContResult is the continuation half of a match result.
type ContResult struct {
	K        interface{}
	Persist  bool
	Channels []Channel
	Patterns []interface{}
	Peek     bool
}

// Result is one per-channel half of a match result.
type Result struct {
	Channel      Channel
	A            interface{}
	RemovedDatum bool
	Persist      bool
}

// ConsumeResult is returned by Consume and Produce alike on a successful
// match.
type ConsumeResult struct {
	Cont    ContResult
	Results []Result
}

// ProduceResult is an alias for ConsumeResult; the two share a shape.
type ProduceResult = ConsumeResult
