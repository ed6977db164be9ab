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
	"context"

	"github.com/dylon/f1r3fly/crypto/hash"
)

// ReplaySpace wraps a *Space and re-executes a previously recorded event
// log deterministically. It shares the wrapped Space's hot
// store, event log and lock manager rather than copying them: replay is a
// steering of the same engine's matcher driver, not a second engine.
type ReplaySpace struct {
	*Space

	replayData map[hash.Hash][]*COMM
	rigged     bool
}

// NewReplaySpace wraps space for replay. Callers must Rig a log before
// issuing any Consume/Produce calls.
func NewReplaySpace(space *Space) *ReplaySpace {
	return &ReplaySpace{Space: space, replayData: make(map[hash.Hash][]*COMM)}
}

// Rig loads the recorded event log, indexing every COMM by both the
// consume reference and every produce reference it names, so either side
// of a replayed call can look up the commit it must reproduce.
func (rs *ReplaySpace) Rig(log []Event) error {
	rs.replayData = make(map[hash.Hash][]*COMM)
	for _, e := range log {
		if e.Kind != EventComm || e.Comm == nil {
			continue
		}
		c := e.Comm
		rs.replayData[c.Consume] = append(rs.replayData[c.Consume], c)
		for _, p := range c.Produces {
			rs.replayData[p] = append(rs.replayData[p], c)
		}
	}
	rs.rigged = true
	return nil
}

// CheckReplayData implements checkReplayData: asserts every
// rigged COMM was consumed by a matching replayed call.
func (rs *ReplaySpace) CheckReplayData() error {
	for _, comms := range rs.replayData {
		if len(comms) > 0 {
			return ErrReplayDivergence
		}
	}
	return nil
}

// expectedFirst orders a position's candidate list so the entry sourced
// from comm.Produces[pos] — the producer that filled that position in the
// recorded match — is tried first, letting extractCandidates' ordinary
// per-position matcher call select it deterministically instead of by
// chance. A datum's Source is always a Produce ref, never a Consume ref,
// so steering must key off the per-position produce reference, not
// comm.Consume.
func expectedFirst(comm *COMM) func(pos int, list []candDatum) []int {
	return func(pos int, list []candDatum) []int {
		var expected hash.Hash
		if pos < len(comm.Produces) {
			expected = comm.Produces[pos]
		}
		order := make([]int, 0, len(list))
		for i, cd := range list {
			if cd.Datum.Source == expected {
				order = append(order, i)
			}
		}
		for i, cd := range list {
			if cd.Datum.Source != expected {
				order = append(order, i)
			}
		}
		return order
	}
}

// producesEqual reports whether chosen's source references are exactly
// comm's Produces, in order — the check that confirms a deterministically
// steered match reproduces the rigged commit rather than merely finding
// some match.
func producesEqual(chosen []candDatum, comm *COMM) bool {
	if len(chosen) != len(comm.Produces) {
		return false
	}
	for i, cd := range chosen {
		if cd.Datum.Source != comm.Produces[i] {
			return false
		}
	}
	return true
}

// Consume implements replay steering of "consume".
func (rs *ReplaySpace) Consume(ctx context.Context, channels []Channel, patterns []interface{}, k interface{}, persist bool, peeks PeekSet) (*ConsumeResult, error) {
	if !rs.rigged {
		return nil, ErrNotReplaying
	}
	if len(channels) == 0 {
		return nil, ErrEmptyChannels
	}
	if len(patterns) != len(channels) {
		return nil, ErrChannelPatternMismatch
	}

	s := rs.Space
	consumeRef := Consume{Channels: channels, Patterns: patterns, K: k, Persist: persist}.Ref()

	var result *ConsumeResult
	err := s.locks.TwoStep(ctx, hashesOf(channels), noExpand, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSpaceClosed
		}

		listFor := func(c Channel) ([]candDatum, error) {
			data, err := s.store.getData(c)
			if err != nil {
				return nil, err
			}
			return toCandDatums(data), nil
		}

		defer_ := func() error {
			wc := WaitingContinuation{Patterns: patterns, K: k, Persist: persist, Peeks: peeks, Source: consumeRef}
			if err := s.store.putContinuation(channels, wc); err != nil {
				return err
			}
			for _, c := range channels {
				if err := s.store.putJoin(c, channels); err != nil {
					return err
				}
			}
			cref := Consume{Channels: channels, Patterns: patterns, K: k, Persist: persist}
			s.el.appendConsume(&cref)
			return nil
		}

		rigged := rs.replayData[consumeRef]
		if len(rigged) == 0 {
			_, ok, err := s.extractCandidates(channels, patterns, listFor, liveOrder)
			if err != nil {
				return err
			}
			if ok {
				return ErrReplayDivergence
			}
			return defer_()
		}

		var matched *COMM
		var chosen []candDatum
		sawUnexpectedMatch := false
		for _, comm := range rigged {
			cds, ok, err := s.extractCandidates(channels, patterns, listFor, expectedFirst(comm))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if producesEqual(cds, comm) {
				matched, chosen = comm, cds
				break
			}
			sawUnexpectedMatch = true
		}
		if matched != nil {
			rs.popRigged(matched)

			results, err := s.finalizeMatch(channels, peeks, consumeRef, chosen, nil)
			if err != nil {
				return err
			}
			result = &ConsumeResult{
				Cont:    ContResult{K: k, Persist: persist, Channels: channels, Patterns: patterns, Peek: len(peeks) > 0},
				Results: results,
			}
			return nil
		}
		if sawUnexpectedMatch {
			return ErrReplayDivergence
		}

		// None of the rigged COMMs this consume is party to can complete
		// yet — the recorded run matched it later, against a produce that
		// hasn't replayed. Defer exactly like an unrigged consume: store
		// the continuation and let the later produce complete the match.
		return defer_()
	})
	return result, err
}

// Produce implements replay steering of "produce".
func (rs *ReplaySpace) Produce(ctx context.Context, channel Channel, data interface{}, persist bool) (*ProduceResult, error) {
	if !rs.rigged {
		return nil, ErrNotReplaying
	}
	s := rs.Space
	produceRef := Produce{Channel: channel, Data: data, Persist: persist}.Ref()
	chHash := HashChannel(channel)

	var joinTuples [][]Channel
	expand := func() ([]hash.Hash, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, ErrSpaceClosed
		}
		joinHashes, err := s.store.getJoins(channel)
		if err != nil {
			return nil, err
		}
		extra := make([]hash.Hash, 0, len(joinHashes))
		joinTuples = joinTuples[:0]
		for _, th := range joinHashes {
			tuple, err := s.store.tupleForHash(th)
			if err != nil {
				return nil, err
			}
			if tuple == nil {
				continue
			}
			joinTuples = append(joinTuples, tuple)
			for _, c := range tuple {
				if h := HashChannel(c); h != chHash {
					extra = append(extra, h)
				}
			}
		}
		return extra, nil
	}

	listForTuple := func(cs []Channel) func(Channel) ([]candDatum, error) {
		return func(c Channel) ([]candDatum, error) {
			stored, err := s.store.getData(c)
			if err != nil {
				return nil, err
			}
			cds := toCandDatums(stored)
			if HashChannel(c) == chHash {
				cds = append(cds, candDatum{Index: -1, Datum: Datum{A: data, Persist: persist, Source: produceRef}})
			}
			return cds, nil
		}
	}

	var result *ProduceResult
	err := s.locks.TwoStep(ctx, []hash.Hash{chHash}, expand, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSpaceClosed
		}

		rigged := rs.replayData[produceRef]
		if len(rigged) == 0 {
			for _, cs := range joinTuples {
				conts, err := s.store.getContinuations(cs)
				if err != nil {
					return err
				}
				for _, wc := range conts {
					// A continuation still awaiting a rigged COMM can only
					// ever be completed by the exact datum the recording
					// used for it; produceRef isn't rigged for anything, so
					// it can't be that datum. This produce is not what was
					// recorded for this slot.
					if len(rs.replayData[wc.Source]) > 0 {
						return ErrReplayDivergence
					}
					_, ok, err := s.extractCandidates(cs, wc.Patterns, listForTuple(cs), liveOrder)
					if err != nil {
						return err
					}
					if ok {
						return ErrReplayDivergence
					}
				}
			}
			if err := s.store.putDatum(channel, Datum{A: data, Persist: persist, Source: produceRef}); err != nil {
				return err
			}
			pref := Produce{Channel: channel, Data: data, Persist: persist}
			s.el.appendProduce(&pref)
			return nil
		}

		sawUnexpectedMatch := false
		for _, comm := range rigged {
			for _, cs := range joinTuples {
				conts, err := s.store.getContinuations(cs)
				if err != nil {
					return err
				}
				for ci, wc := range conts {
					if wc.Source != comm.Consume {
						continue
					}
					chosen, ok, err := s.extractCandidates(cs, wc.Patterns, listForTuple(cs), expectedFirst(comm))
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					if !producesEqual(chosen, comm) {
						sawUnexpectedMatch = true
						continue
					}

					rs.popRigged(comm)
					results, err := s.finalizeMatch(cs, wc.Peeks, wc.Source, chosen, &produceRef)
					if err != nil {
						return err
					}
					if !wc.Persist {
						if err := s.store.removeContinuation(cs, ci); err != nil {
							return err
						}
						for _, c := range cs {
							if err := s.store.removeJoin(c, cs); err != nil {
								return err
							}
						}
					}
					result = &ProduceResult{
						Cont:    ContResult{K: wc.K, Persist: wc.Persist, Channels: cs, Patterns: wc.Patterns, Peek: len(wc.Peeks) > 0},
						Results: results,
					}
					return nil
				}
			}
		}
		if sawUnexpectedMatch {
			return ErrReplayDivergence
		}

		// Nothing rigged for this produce can complete yet — its join
		// partner hasn't replayed its data either. Defer exactly like an
		// unrigged produce: store the datum and let a later call complete
		// the match.
		if err := s.store.putDatum(channel, Datum{A: data, Persist: persist, Source: produceRef}); err != nil {
			return err
		}
		pref := Produce{Channel: channel, Data: data, Persist: persist}
		s.el.appendProduce(&pref)
		return nil
	})
	return result, err
}

// popRigged removes comm from every index Rig built for it — its consume
// key and each of its produce keys — not just the one key the caller
// matched it through. A COMM sits under several keys at once, and
// CheckReplayData treats any leftover entry as an unconsumed commit, so a
// completed COMM has to disappear from all of them together.
func (rs *ReplaySpace) popRigged(comm *COMM) {
	rs.removeRigged(comm.Consume, comm)
	for _, p := range comm.Produces {
		rs.removeRigged(p, comm)
	}
}

func (rs *ReplaySpace) removeRigged(key hash.Hash, comm *COMM) {
	list := rs.replayData[key]
	for i, c := range list {
		if c == comm {
			rs.replayData[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
