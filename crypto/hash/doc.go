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

// Package hash provides the stable content hash used throughout rspace:
// channel lock keys, channel content addressing, and structural references
// for Produce and Consume events.
//
// Q: WHY BLAKE2b-256 AND NOT SHA-256d?
//
// A: Channels and patterns in a tuplespace are hashed on every produce and
// consume, on the hot path of every communication. BLAKE2b is faster than
// SHA-256 on general-purpose hardware and does not need a second pass to
// resist length-extension attacks the way SHA-256d does, so a single call
// is enough for a stable, collision-resistant digest here.
package hash
