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

// Package hashlock implements the two-step hash lock: a
// fairness primitive that lets operations on disjoint channel sets proceed
// concurrently while operations that overlap on even one channel serialize,
// without ever risking deadlock from inconsistent lock-acquisition order.
//
// Phase A acquires a lock for every hash in an initial set, always in
// ascending hash order. While holding that set, the caller computes a
// second, data-dependent "extra" set (e.g. the join partners discovered by
// reading joins while phase A's locks are held). Phase B locks the union of
// initial and extra, again in ascending order, skipping hashes already held
// from phase A. Only once the full (possibly-expanded) set is held does the
// protected thunk run. Per-hash locks are real *sync.Mutex values pulled
// from a bounded LRU so long-idle channels don't pin memory forever
// (github.com/hashicorp/golang-lru).
package hashlock
