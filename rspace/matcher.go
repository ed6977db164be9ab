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
	"math/rand"
	"time"
)

// Matcher decides whether a pattern accepts a datum, and if so how the
// datum is rewritten for delivery to the continuation. Most
// callers want a pattern language simpler than full unification; Matcher
// keeps rspace agnostic to what that language is.
type Matcher interface {
	// Match reports whether pattern accepts datum a. On success it returns
	// the value actually delivered to the continuation, which may differ
	// from a (e.g. a pattern that only binds part of a tuple).
	Match(pattern interface{}, a interface{}) (rewritten interface{}, ok bool, err error)
}

// Wildcard is a pattern value that WildcardMatcher accepts unconditionally.
type Wildcard struct{}

// WildcardMatcher treats Wildcard{} as "match anything" and falls back to
// equality for every other pattern value. Tests and simple deployments use
// it; richer pattern languages supply their own Matcher.
type WildcardMatcher struct{}

// Match implements Matcher.
func (WildcardMatcher) Match(pattern interface{}, a interface{}) (interface{}, bool, error) {
	if _, ok := pattern.(Wildcard); ok {
		return a, true, nil
	}
	return a, pattern == a, nil
}

// EqualMatcher is the trivial Matcher: a pattern matches iff it equals the
// datum under ==, and the datum is delivered unchanged. Useful for tests
// and for callers whose patterns are already concrete values.
type EqualMatcher struct{}

// Match implements Matcher.
func (EqualMatcher) Match(pattern interface{}, a interface{}) (interface{}, bool, error) {
	return a, pattern == a, nil
}

// FuncMatcher adapts a plain predicate function into a Matcher for callers
// who want pattern matching without defining a named type.
type FuncMatcher func(pattern interface{}, a interface{}) (interface{}, bool, error)

// Match implements Matcher.
func (f FuncMatcher) Match(pattern interface{}, a interface{}) (interface{}, bool, error) {
	return f(pattern, a)
}

// ExtractDataCandidates returns a trial order over data's indices for a
// non-deterministic live match to try, freshly shuffled so repeated runs
// over the same store don't always prefer the oldest datum. Space's
// liveOrder uses it as the data-side order for Consume, Produce and Install,
// and ReplaySpace uses liveOrder for calls with no rigged COMM; a rigged
// replay match steers by the rigged COMM log instead.
func ExtractDataCandidates(data []Datum) []int {
	idx := make([]int, len(data))
	for i := range data {
		idx[i] = i
	}
	shuffle(idx)
	return idx
}

// ExtractContinuationCandidates is ExtractDataCandidates' analogue for the
// waiting-continuation side of a produce match: Space.Produce uses it to
// pick which of a channel's several waiting continuations to try first.
func ExtractContinuationCandidates(conts []WaitingContinuation) []int {
	idx := make([]int, len(conts))
	for i := range conts {
		idx[i] = i
	}
	shuffle(idx)
	return idx
}

// shuffle randomizes order using a private, per-call rand.Rand rather than
// the global source: a shared package-level generator would otherwise
// serialize every concurrent match on math/rand's internal lock.
func shuffle(idx []int) {
	if len(idx) < 2 {
		return
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(idx))))
	r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
}

// ExtractFirstMatch runs matcher against pattern for each datum in data, in
// the order given by order (typically ExtractDataCandidates' output, or a
// replay orderFor's steered order), and returns the index and rewritten
// value of the first success. Space.extractCandidates is its caller for
// every position of every consume/produce/install match.
func ExtractFirstMatch(matcher Matcher, pattern interface{}, data []Datum, order []int) (idx int, rewritten interface{}, ok bool, err error) {
	for _, i := range order {
		rw, matched, err := matcher.Match(pattern, data[i].A)
		if err != nil {
			return 0, nil, false, err
		}
		if matched {
			return i, rw, true, nil
		}
	}
	return 0, nil, false, nil
}
