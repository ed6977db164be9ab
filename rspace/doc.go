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

// Package rspace implements the tuplespace that is the shared-memory
// substrate of a concurrent process calculus: producers publish data on
// channels, consumers register pattern tuples together with a
// continuation, and the space atomically matches the two, consumes what
// was matched (unless marked persistent or peeked), and records the
// communication in an append-only event log.
//
// A Space is constructed over a history.Repository, which supplies the
// committed, read-only state at a root hash, and layers a mutable hot
// store on top of it. All matching is delegated to a caller-supplied
// Matcher; the space itself never inspects patterns.
package rspace
