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
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dylon/f1r3fly/crypto/hash"
	"github.com/dylon/f1r3fly/rspace/hashlock"
	"github.com/dylon/f1r3fly/rspace/history"
	"github.com/dylon/f1r3fly/rspace/metrics"
)

// Space is the tuplespace engine: the public surface every
// other subsystem (term reducer, system processes, tests) drives through
// produce/consume/install. Every dependency (matcher, history repository,
// metrics source) is passed in explicitly at construction, never resolved
// from a global.
type Space struct {
	mu sync.Mutex

	matcher Matcher
	locks   *hashlock.Manager
	metrics *metrics.Source
	log     *logrus.Entry

	repo   history.Repository
	reader history.Reader
	root   hash.Hash

	store *hotStore
	el    *eventLog

	// installs records every durable install, keyed by the hash of its
	// channel tuple, so reset can re-apply them.
	installs map[hash.Hash]Install

	closed bool
}

// NewSpace builds a Space over repo's empty root, using matcher to decide
// pattern/datum matches and src (which may be nil) to record metrics. The
// lock manager's idle-cache pool uses hashlock's own default size; callers
// that loaded a Config and want its IdleLockCacheSize honored should use
// NewSpaceWithConfig instead.
func NewSpace(repo history.Repository, matcher Matcher, src *metrics.Source) (*Space, error) {
	return newSpace(repo, matcher, src, hashlock.NewManager())
}

// NewSpaceWithConfig is NewSpace, but sizes the lock manager's idle-mutex
// cache from cfg.IdleLockCacheSize instead of hashlock's built-in default.
func NewSpaceWithConfig(cfg Config, repo history.Repository, matcher Matcher, src *metrics.Source) (*Space, error) {
	locks, err := hashlock.NewManagerSize(cfg.IdleLockCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "build lock manager failed")
	}
	return newSpace(repo, matcher, src, locks)
}

func newSpace(repo history.Repository, matcher Matcher, src *metrics.Source, locks *hashlock.Manager) (*Space, error) {
	root := repo.EmptyRoot()
	reader, err := repo.GetHistoryReader(root)
	if err != nil {
		return nil, errors.Wrap(err, "read empty root failed")
	}
	return &Space{
		matcher:  matcher,
		locks:    locks,
		metrics:  src,
		log:      logrus.WithField("component", "rspace"),
		repo:     repo,
		reader:   reader,
		root:     root,
		store:    newHotStore(reader, nil),
		el:       newEventLog(),
		installs: make(map[hash.Hash]Install),
	}, nil
}

// Close releases the lock manager's idle-mutex cache and the history
// repository. It does not wait for in-flight operations.
func (s *Space) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.locks.Shutdown()
	return s.repo.Close()
}

func hashesOf(channels []Channel) []hash.Hash {
	out := make([]hash.Hash, len(channels))
	for i, c := range channels {
		out[i] = HashChannel(c)
	}
	return out
}

func noExpand() ([]hash.Hash, error) { return nil, nil }

// candDatum is one datum under consideration during matching: Index is its
// position in the hot store's list, or -1 when it is the not-yet-stored
// datum of the produce call currently in flight, spliced into its own
// candidate list as if already stored.
type candDatum struct {
	Index int
	Datum Datum
}

func toCandDatums(data []Datum) []candDatum {
	out := make([]candDatum, len(data))
	for i, d := range data {
		out[i] = candDatum{Index: i, Datum: d}
	}
	return out
}

// extractCandidates runs the matcher over channels/patterns position by
// position, consulting listFor for each channel's current candidate list.
// It is the shared core of "extract data candidates" used by
// both consume (direct store reads) and produce (one channel's list has the
// in-flight datum spliced in). Candidates already claimed by an earlier
// position on the same channel (relevant only when channels repeats a
// value) are skipped so the op never matches one datum twice.
//
// orderFor picks the trial order of a position's candidate list; live
// callers shuffle, replay callers steer towards the source reference the
// rigged COMM log names.
func (s *Space) extractCandidates(channels []Channel, patterns []interface{}, listFor func(Channel) ([]candDatum, error), orderFor func(pos int, list []candDatum) []int) ([]candDatum, bool, error) {
	claimed := make(map[hash.Hash]map[int]bool)
	chosen := make([]candDatum, len(channels))
	for i, c := range channels {
		list, err := listFor(c)
		if err != nil {
			return nil, false, err
		}
		order := orderFor(i, list)
		h := HashChannel(c)

		trial := make([]int, 0, len(order))
		for _, li := range order {
			if claimed[h] != nil && claimed[h][list[li].Index] {
				continue
			}
			trial = append(trial, li)
		}
		data := make([]Datum, len(list))
		for j, cd := range list {
			data[j] = cd.Datum
		}
		li, rw, ok, err := ExtractFirstMatch(s.matcher, patterns[i], data, trial)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		cd := list[li]
		cd.Datum.A = rw
		chosen[i] = cd
		if claimed[h] == nil {
			claimed[h] = make(map[int]bool)
		}
		claimed[h][cd.Index] = true
	}
	return chosen, true, nil
}

// liveOrder is the default orderFor: a fresh shuffle per position, so
// repeated live runs don't systematically favor one candidate.
func liveOrder(_ int, list []candDatum) []int {
	data := make([]Datum, len(list))
	for i, cd := range list {
		data[i] = cd.Datum
	}
	return ExtractDataCandidates(data)
}

// finalizeMatch commits a found match: it appends the COMM event, bumps the
// produce counter for every matched datum not produced by the in-flight
// call (excludeRef), physically removes stored data that doesn't survive
// (not persistent and not peeked), and returns the Results half of the
// ConsumeResult/ProduceResult.
func (s *Space) finalizeMatch(channels []Channel, peeks PeekSet, consumeRef hash.Hash, chosen []candDatum, excludeRef *hash.Hash) ([]Result, error) {
	produces := make([]hash.Hash, len(chosen))
	for i, cd := range chosen {
		produces[i] = cd.Datum.Source
	}

	timesRepeated := make(map[hash.Hash]int)
	bumped := make(map[hash.Hash]bool)
	for _, cd := range chosen {
		src := cd.Datum.Source
		if excludeRef != nil && src == *excludeRef {
			continue
		}
		if !bumped[src] {
			timesRepeated[src] = s.el.bump(src)
			bumped[src] = true
		}
	}
	s.el.appendComm(&COMM{Consume: consumeRef, Produces: produces, Peeks: peeks, TimesRepeated: timesRepeated})

	chanByHash := make(map[hash.Hash]Channel, len(channels))
	type pending struct {
		pos int
		idx int
	}
	removals := make(map[hash.Hash][]pending)
	results := make([]Result, len(channels))
	for i, c := range channels {
		h := HashChannel(c)
		chanByHash[h] = c
		cd := chosen[i]
		survives := cd.Datum.Persist || peeks.Has(i)
		results[i] = Result{
			Channel:      c,
			A:            cd.Datum.A,
			RemovedDatum: !survives,
			Persist:      cd.Datum.Persist,
		}
		if !survives && cd.Index >= 0 {
			removals[h] = append(removals[h], pending{pos: i, idx: cd.Index})
		}
	}
	for h, ps := range removals {
		sort.Slice(ps, func(a, b int) bool { return ps[a].idx > ps[b].idx })
		for _, p := range ps {
			if err := s.store.removeDatum(chanByHash[h], p.idx); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// Consume registers a continuation on channels and tries to match it
// immediately against whatever data is already stored. channels must be non-empty and
// patterns must have the same length; peeks must index within channels.
func (s *Space) Consume(ctx context.Context, channels []Channel, patterns []interface{}, k interface{}, persist bool, peeks PeekSet) (*ConsumeResult, error) {
	if len(channels) == 0 {
		return nil, ErrEmptyChannels
	}
	if len(patterns) != len(channels) {
		return nil, ErrChannelPatternMismatch
	}
	for i := range peeks {
		if i < 0 || i >= len(channels) {
			return nil, ErrPeekIndexOutOfRange
		}
	}

	start := time.Now()
	defer func() { s.metrics.ObserveConsume(time.Since(start)) }()

	consumeRef := Consume{Channels: channels, Patterns: patterns, K: k, Persist: persist}.Ref()

	var result *ConsumeResult
	err := s.locks.TwoStep(ctx, hashesOf(channels), noExpand, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSpaceClosed
		}

		chosen, ok, err := s.extractCandidates(channels, patterns, func(c Channel) ([]candDatum, error) {
			data, err := s.store.getData(c)
			if err != nil {
				return nil, err
			}
			return toCandDatums(data), nil
		}, liveOrder)
		if err != nil {
			return err
		}
		if !ok {
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
			s.log.WithField("channels", len(channels)).Debug("consume registered, no match")
			return nil
		}

		results, err := s.finalizeMatch(channels, peeks, consumeRef, chosen, nil)
		if err != nil {
			return err
		}
		result = &ConsumeResult{
			Cont:    ContResult{K: k, Persist: persist, Channels: channels, Patterns: patterns, Peek: len(peeks) > 0},
			Results: results,
		}
		s.log.WithField("channels", len(channels)).Debug("consume matched")
		return nil
	})
	return result, err
}

// Produce publishes data on channel and tries to match it against a
// waiting continuation before falling back to storing it.
func (s *Space) Produce(ctx context.Context, channel Channel, data interface{}, persist bool) (*ProduceResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveProduce(time.Since(start)) }()

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
				h := HashChannel(c)
				if h != chHash {
					extra = append(extra, h)
				}
			}
		}
		return extra, nil
	}

	var result *ProduceResult
	err := s.locks.TwoStep(ctx, []hash.Hash{chHash}, expand, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSpaceClosed
		}

		for _, cs := range joinTuples {
			conts, err := s.store.getContinuations(cs)
			if err != nil {
				return err
			}
			order := ExtractContinuationCandidates(conts)
			for _, ci := range order {
				wc := conts[ci]
				chosen, ok, err := s.extractCandidates(cs, wc.Patterns, func(c Channel) ([]candDatum, error) {
					stored, err := s.store.getData(c)
					if err != nil {
						return nil, err
					}
					cds := toCandDatums(stored)
					if HashChannel(c) == chHash {
						cds = append(cds, candDatum{Index: -1, Datum: Datum{A: data, Persist: persist, Source: produceRef}})
					}
					return cds, nil
				}, liveOrder)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}

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
				s.log.WithField("channel", chHash.Short(8)).Debug("produce matched")
				return nil
			}
		}

		if err := s.store.putDatum(channel, Datum{A: data, Persist: persist, Source: produceRef}); err != nil {
			return err
		}
		pref := Produce{Channel: channel, Data: data, Persist: persist}
		s.el.appendProduce(&pref)
		s.log.WithField("channel", chHash.Short(8)).Debug("produce stored, no match")
		return nil
	})
	return result, err
}

// Install registers a startup-only continuation that fails if it would
// have matched existing data. An install-time match is always rejected
// with ErrInstallAfterStartup rather than delivered, so the "matched"
// outcome a ConsumeResult would otherwise carry never arises here — Install
// returns only error, collapsing what would be Option<(K, []A)> down to its
// always-None success case.
func (s *Space) Install(ctx context.Context, channels []Channel, patterns []interface{}, k interface{}) error {
	if len(channels) == 0 {
		return ErrEmptyChannels
	}
	if len(patterns) != len(channels) {
		return ErrChannelPatternMismatch
	}

	consumeRef := Consume{Channels: channels, Patterns: patterns, K: k, Persist: true}.Ref()

	return s.locks.TwoStep(ctx, hashesOf(channels), noExpand, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSpaceClosed
		}

		_, ok, err := s.extractCandidates(channels, patterns, func(c Channel) ([]candDatum, error) {
			data, err := s.store.getData(c)
			if err != nil {
				return nil, err
			}
			return toCandDatums(data), nil
		}, liveOrder)
		if err != nil {
			return err
		}
		if ok {
			return ErrInstallAfterStartup
		}

		wc := WaitingContinuation{Patterns: patterns, K: k, Persist: true, Source: consumeRef}
		if err := s.store.installContinuation(channels, wc); err != nil {
			return err
		}
		for _, c := range channels {
			if err := s.store.installJoin(c, channels); err != nil {
				return err
			}
		}
		s.installs[HashChannels(channels)] = Install{Channels: channels, Patterns: patterns, K: k}
		return nil
	})
}

// Reset rebinds the engine atop a new
// history root, dropping the hot store, event log and produce counter, then
// re-applying every install.
func (s *Space) Reset(root hash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	reader, err := s.repo.GetHistoryReader(root)
	if err != nil {
		return err
	}
	s.reader = reader
	s.root = root
	s.store = newHotStore(reader, nil)
	s.el.drain()
	s.locks.CleanUp()
	s.metrics.IncReset()

	for _, inst := range s.installs {
		wc := WaitingContinuation{Patterns: inst.Patterns, K: inst.K, Persist: true}
		if err := s.store.installContinuation(inst.Channels, wc); err != nil {
			return err
		}
		for _, c := range inst.Channels {
			if err := s.store.installJoin(c, inst.Channels); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear resets the engine atop the empty history root.
func (s *Space) Clear() error {
	return s.Reset(s.repo.EmptyRoot())
}

// CreateCheckpoint materializes the hot-store delta into a new history
// root. The event log is drained and returned; the produce counter is left
// untouched (see DESIGN.md "Open Question decisions").
func (s *Space) CreateCheckpoint() (hash.Hash, []Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return hash.Hash{}, nil, ErrSpaceClosed
	}
	newRoot, err := s.repo.Checkpoint(s.root, s.store.toDelta())
	if err != nil {
		return hash.Hash{}, nil, err
	}
	reader, err := s.repo.GetHistoryReader(newRoot)
	if err != nil {
		return hash.Hash{}, nil, err
	}
	events := s.el.drainEvents()
	s.reader = reader
	s.root = newRoot
	s.store = newHotStore(reader, nil)
	return newRoot, events, nil
}

// SoftCheckpoint is the bundle createSoftCheckpoint returns.
type SoftCheckpoint struct {
	Cache    *CacheSnapshot
	Events   []Event
	Produces map[hash.Hash]int
}

// CreateSoftCheckpoint snapshots the hot store and drains the event log
// and produce counter together, returning a bundle a later call can revert to.
func (s *Space) CreateSoftCheckpoint() (*SoftCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSpaceClosed
	}
	snap := s.store.snapshot()
	events, produces := s.el.drain()
	return &SoftCheckpoint{Cache: snap, Events: events, Produces: produces}, nil
}

// RevertToSoftCheckpoint restores the hot store, event log and produce
// counter from a bundle returned by CreateSoftCheckpoint.
func (s *Space) RevertToSoftCheckpoint(sc *SoftCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	s.store = newHotStore(s.reader, sc.Cache)
	s.el.restore(sc.Events, sc.Produces)
	s.metrics.IncRevertSoftCheckpoint()
	return nil
}

// GetData returns the data currently stored at channel c.
func (s *Space) GetData(c Channel) ([]Datum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.getData(c)
}

// GetWaitingContinuations returns the continuations currently registered
// on channel tuple channels.
func (s *Space) GetWaitingContinuations(channels []Channel) ([]WaitingContinuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.getContinuations(channels)
}

// GetJoins returns the channel tuples joined
// with c, resolved back from their stored hashes.
func (s *Space) GetJoins(c Channel) ([][]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes, err := s.store.getJoins(c)
	if err != nil {
		return nil, err
	}
	out := make([][]Channel, 0, len(hashes))
	for _, h := range hashes {
		t, err := s.store.tupleForHash(h)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// ToMap materializes the entire visible hot-store overlay.
func (s *Space) ToMap() HotStoreMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.toMap()
}
