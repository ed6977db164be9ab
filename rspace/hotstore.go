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
	"github.com/dylon/f1r3fly/crypto/hash"
	"github.com/dylon/f1r3fly/rspace/history"
)

// hotStore is the in-memory overlay atop a history.Reader. It is not safe
// for unsynchronized concurrent use on its own — callers (the Space) hold
// Space.mu for the duration of any hotStore method call, wrapping the whole
// read/write critical section in a single lock. The two-step hash lock
// (rspace/hashlock) is a *different*, additional layer: it gives operations
// on disjoint channel sets the fairness and non-blocking guarantees
// concurrent produce/consume traffic needs; Space.mu only protects the Go
// map structures themselves during the (always brief) mutation that
// happens once a match has been decided.
type hotStore struct {
	reader history.Reader

	data          map[hash.Hash][]Datum
	touchedData   map[hash.Hash]bool
	continuations map[hash.Hash][]WaitingContinuation
	touchedConts  map[hash.Hash]bool
	joins         map[hash.Hash][]hash.Hash
	touchedJoins  map[hash.Hash]bool

	// Side tables so ToMap/snapshot can hand back the original Channel
	// values instead of bare hashes.
	channelByHash map[hash.Hash]Channel
	tupleByHash   map[hash.Hash][]Channel
}

// newHotStore builds a hot store layered over reader, optionally seeded
// from a prior CacheSnapshot (used by revertToSoftCheckpoint).
func newHotStore(reader history.Reader, snap *CacheSnapshot) *hotStore {
	s := &hotStore{
		reader:        reader,
		data:          make(map[hash.Hash][]Datum),
		touchedData:   make(map[hash.Hash]bool),
		continuations: make(map[hash.Hash][]WaitingContinuation),
		touchedConts:  make(map[hash.Hash]bool),
		joins:         make(map[hash.Hash][]hash.Hash),
		touchedJoins:  make(map[hash.Hash]bool),
		channelByHash: make(map[hash.Hash]Channel),
		tupleByHash:   make(map[hash.Hash][]Channel),
	}
	if snap != nil {
		for h, d := range snap.Data {
			s.data[h] = append([]Datum(nil), d...)
			s.touchedData[h] = true
		}
		for h, c := range snap.Continuations {
			s.continuations[h] = append([]WaitingContinuation(nil), c...)
			s.touchedConts[h] = true
		}
		for h, j := range snap.Joins {
			s.joins[h] = append([]hash.Hash(nil), j...)
			s.touchedJoins[h] = true
		}
		for h, c := range snap.ChannelByHash {
			s.channelByHash[h] = c
		}
		for h, t := range snap.TupleByHash {
			s.tupleByHash[h] = t
		}
	}
	return s
}

// tupleForHash returns the Channel tuple previously remembered under h,
// reading through to history on a cold miss — the overlay is wiped empty by
// every CreateCheckpoint/Reset, so a tuple whose only continuation or join
// now lives in committed history has nothing left in tupleByHash until this
// falls through to the Reader that persisted it.
func (s *hotStore) tupleForHash(h hash.Hash) ([]Channel, error) {
	if cs, ok := s.tupleByHash[h]; ok {
		return cs, nil
	}
	stored, err := s.reader.GetTuple(h)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	cs := make([]Channel, len(stored))
	for i, v := range stored {
		c, ok := v.(Channel)
		if !ok {
			return nil, ErrChannelDecodeFailed
		}
		cs[i] = c
	}
	return cs, nil
}

func (s *hotStore) rememberChannel(c Channel) hash.Hash {
	h := HashChannel(c)
	if _, ok := s.channelByHash[h]; !ok {
		s.channelByHash[h] = c
	}
	return h
}

func (s *hotStore) rememberTuple(cs []Channel) hash.Hash {
	h := HashChannels(cs)
	if _, ok := s.tupleByHash[h]; !ok {
		cp := make([]Channel, len(cs))
		copy(cp, cs)
		s.tupleByHash[h] = cp
	}
	return h
}

// getData returns the current data at channel c: the overlay value if c
// has been touched, otherwise a read-through to history.
func (s *hotStore) getData(c Channel) ([]Datum, error) {
	h := s.rememberChannel(c)
	if s.touchedData[h] {
		return s.data[h], nil
	}
	stored, err := s.reader.GetData(h)
	if err != nil {
		return nil, err
	}
	return storedToData(stored), nil
}

// getContinuations returns the current waiting continuations on channel
// tuple cs.
func (s *hotStore) getContinuations(cs []Channel) ([]WaitingContinuation, error) {
	h := s.rememberTuple(cs)
	if s.touchedConts[h] {
		return s.continuations[h], nil
	}
	stored, err := s.reader.GetContinuations(h)
	if err != nil {
		return nil, err
	}
	return storedToConts(stored), nil
}

// getJoins returns the channel tuples (by hash) registered as joins for
// channel c.
func (s *hotStore) getJoins(c Channel) ([]hash.Hash, error) {
	h := s.rememberChannel(c)
	if s.touchedJoins[h] {
		return s.joins[h], nil
	}
	return s.reader.GetJoins(h)
}

func (s *hotStore) ensureDataSeeded(h hash.Hash) error {
	if s.touchedData[h] {
		return nil
	}
	stored, err := s.reader.GetData(h)
	if err != nil {
		return err
	}
	s.data[h] = storedToData(stored)
	s.touchedData[h] = true
	return nil
}

func (s *hotStore) ensureContsSeeded(h hash.Hash) error {
	if s.touchedConts[h] {
		return nil
	}
	stored, err := s.reader.GetContinuations(h)
	if err != nil {
		return err
	}
	s.continuations[h] = storedToConts(stored)
	s.touchedConts[h] = true
	return nil
}

func (s *hotStore) ensureJoinsSeeded(h hash.Hash) error {
	if s.touchedJoins[h] {
		return nil
	}
	stored, err := s.reader.GetJoins(h)
	if err != nil {
		return err
	}
	s.joins[h] = append([]hash.Hash(nil), stored...)
	s.touchedJoins[h] = true
	return nil
}

// putDatum appends d to channel c's sequence.
func (s *hotStore) putDatum(c Channel, d Datum) error {
	h := s.rememberChannel(c)
	if err := s.ensureDataSeeded(h); err != nil {
		return err
	}
	s.data[h] = append(s.data[h], d)
	return nil
}

// putContinuation appends wc to channel-tuple cs's sequence.
func (s *hotStore) putContinuation(cs []Channel, wc WaitingContinuation) error {
	h := s.rememberTuple(cs)
	if err := s.ensureContsSeeded(h); err != nil {
		return err
	}
	s.continuations[h] = append(s.continuations[h], wc)
	return nil
}

// putJoin ensures cs is present (deduplicated) in the join list of c.
func (s *hotStore) putJoin(c Channel, cs []Channel) error {
	ch := s.rememberChannel(c)
	if err := s.ensureJoinsSeeded(ch); err != nil {
		return err
	}
	tupleHash := s.rememberTuple(cs)
	for _, existing := range s.joins[ch] {
		if existing == tupleHash {
			return nil
		}
	}
	s.joins[ch] = append(s.joins[ch], tupleHash)
	return nil
}

// installContinuation behaves exactly like putContinuation: the overlay
// keeps no install marker, so an installed continuation is matched, snapshot
// and checkpointed like any other. Space keeps the
// durable install record separately (Space.installs) and re-applies it via
// installContinuation/installJoin after every reset.
func (s *hotStore) installContinuation(cs []Channel, wc WaitingContinuation) error {
	return s.putContinuation(cs, wc)
}

// installJoin behaves exactly like putJoin.
func (s *hotStore) installJoin(c Channel, cs []Channel) error {
	return s.putJoin(c, cs)
}

// removeDatum removes the datum at idx from channel c. Callers MUST invoke
// this in strictly descending idx order within one operation — indices
// handed out by getData are only stable under that discipline.
func (s *hotStore) removeDatum(c Channel, idx int) error {
	h := s.rememberChannel(c)
	if err := s.ensureDataSeeded(h); err != nil {
		return err
	}
	list := s.data[h]
	if idx < 0 || idx >= len(list) {
		return ErrIndexInvariant
	}
	s.data[h] = append(list[:idx], list[idx+1:]...)
	return nil
}

// removeContinuation removes the continuation at idx from channel tuple cs.
func (s *hotStore) removeContinuation(cs []Channel, idx int) error {
	h := s.rememberTuple(cs)
	if err := s.ensureContsSeeded(h); err != nil {
		return err
	}
	list := s.continuations[h]
	if idx < 0 || idx >= len(list) {
		return ErrIndexInvariant
	}
	s.continuations[h] = append(list[:idx], list[idx+1:]...)
	return nil
}

// removeJoin removes tuple cs from channel c's join list, by value.
func (s *hotStore) removeJoin(c Channel, cs []Channel) error {
	ch := s.rememberChannel(c)
	if err := s.ensureJoinsSeeded(ch); err != nil {
		return err
	}
	tupleHash := s.rememberTuple(cs)
	list := s.joins[ch]
	for i, existing := range list {
		if existing == tupleHash {
			s.joins[ch] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// CacheSnapshot captures the complete hot-store overlay: every touched key
// and its current value.
type CacheSnapshot struct {
	Data          map[hash.Hash][]Datum
	Continuations map[hash.Hash][]WaitingContinuation
	Joins         map[hash.Hash][]hash.Hash
	ChannelByHash map[hash.Hash]Channel
	TupleByHash   map[hash.Hash][]Channel
}

// snapshot returns a deep-enough copy of the overlay for a soft checkpoint.
func (s *hotStore) snapshot() *CacheSnapshot {
	snap := &CacheSnapshot{
		Data:          make(map[hash.Hash][]Datum, len(s.data)),
		Continuations: make(map[hash.Hash][]WaitingContinuation, len(s.continuations)),
		Joins:         make(map[hash.Hash][]hash.Hash, len(s.joins)),
		ChannelByHash: make(map[hash.Hash]Channel, len(s.channelByHash)),
		TupleByHash:   make(map[hash.Hash][]Channel, len(s.tupleByHash)),
	}
	for h, d := range s.data {
		snap.Data[h] = append([]Datum(nil), d...)
	}
	for h, c := range s.continuations {
		snap.Continuations[h] = append([]WaitingContinuation(nil), c...)
	}
	for h, j := range s.joins {
		snap.Joins[h] = append([]hash.Hash(nil), j...)
	}
	for h, c := range s.channelByHash {
		snap.ChannelByHash[h] = c
	}
	for h, t := range s.tupleByHash {
		snap.TupleByHash[h] = t
	}
	return snap
}

// toDelta converts the overlay into a history.Delta, for createCheckpoint.
func (s *hotStore) toDelta() *history.Delta {
	d := &history.Delta{
		Data:          make(map[hash.Hash][]history.StoredDatum, len(s.data)),
		Continuations: make(map[hash.Hash][]history.StoredContinuation, len(s.continuations)),
		Joins:         make(map[hash.Hash][]hash.Hash, len(s.joins)),
		Tuples:        make(map[hash.Hash][]interface{}, len(s.tupleByHash)),
	}
	for h, list := range s.data {
		d.Data[h] = dataToStored(list)
	}
	for h, list := range s.continuations {
		d.Continuations[h] = contsToStored(list)
	}
	for h, list := range s.joins {
		d.Joins[h] = append([]hash.Hash(nil), list...)
	}
	// Every tuple rememberTuple has seen this session travels in the delta,
	// including ones only read (getContinuations seeds its tuple's hash
	// into tupleByHash on a cold hit too, not just puts/removes). A tuple
	// is immutable once built, so re-persisting one already known under an
	// ancestor root is redundant, never wrong — and it's what lets Produce
	// resolve a join's tuple straight from the new root instead of walking
	// back through history on every cold hit.
	for h, cs := range s.tupleByHash {
		d.Tuples[h] = channelsToInterfaces(cs)
	}
	return d
}

func channelsToInterfaces(cs []Channel) []interface{} {
	out := make([]interface{}, len(cs))
	for i, c := range cs {
		out[i] = c
	}
	return out
}

// toMap materializes every entry currently touched in the overlay, keyed
// by the original Channel/tuple values.
type HotStoreMap struct {
	Data          map[Channel][]Datum
	Continuations map[string][]WaitingContinuation // keyed by tuple hash hex for stable iteration
	Joins         map[Channel][][]Channel
}

func (s *hotStore) toMap() HotStoreMap {
	m := HotStoreMap{
		Data:          make(map[Channel][]Datum, len(s.data)),
		Continuations: make(map[string][]WaitingContinuation, len(s.continuations)),
		Joins:         make(map[Channel][][]Channel, len(s.joins)),
	}
	for h, list := range s.data {
		if c, ok := s.channelByHash[h]; ok {
			m.Data[c] = append([]Datum(nil), list...)
		}
	}
	for h, list := range s.continuations {
		m.Continuations[h.String()] = append([]WaitingContinuation(nil), list...)
	}
	for h, list := range s.joins {
		c, ok := s.channelByHash[h]
		if !ok {
			continue
		}
		tuples := make([][]Channel, 0, len(list))
		for _, th := range list {
			if t, ok := s.tupleByHash[th]; ok {
				tuples = append(tuples, t)
			}
		}
		m.Joins[c] = tuples
	}
	return m
}

func storedToData(sd []history.StoredDatum) []Datum {
	out := make([]Datum, len(sd))
	for i, d := range sd {
		out[i] = Datum{A: d.Payload, Persist: d.Persist, Source: d.Source}
	}
	return out
}

func dataToStored(d []Datum) []history.StoredDatum {
	out := make([]history.StoredDatum, len(d))
	for i, v := range d {
		out[i] = history.StoredDatum{Payload: v.A, Persist: v.Persist, Source: v.Source}
	}
	return out
}

func storedToConts(sc []history.StoredContinuation) []WaitingContinuation {
	out := make([]WaitingContinuation, len(sc))
	for i, c := range sc {
		out[i] = WaitingContinuation{
			Patterns: c.Patterns,
			K:        c.K,
			Persist:  c.Persist,
			Peeks:    NewPeekSet(c.Peeks...),
			Source:   c.Source,
		}
	}
	return out
}

func contsToStored(wc []WaitingContinuation) []history.StoredContinuation {
	out := make([]history.StoredContinuation, len(wc))
	for i, c := range wc {
		out[i] = history.StoredContinuation{
			Patterns: c.Patterns,
			K:        c.K,
			Persist:  c.Persist,
			Peeks:    c.Peeks.Sorted(),
			Source:   c.Source,
		}
	}
	return out
}
