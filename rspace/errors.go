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
	"errors"
)

var (
	// ErrEmptyChannels indicates a consume or install call was made with no
	// channels, violating the "channels non-empty" precondition.
	ErrEmptyChannels = errors.New("rspace: channels must be non-empty")
	// ErrChannelPatternMismatch indicates the number of patterns did not
	// match the number of channels.
	ErrChannelPatternMismatch = errors.New("rspace: len(patterns) must equal len(channels)")
	// ErrPeekIndexOutOfRange indicates a peek index fell outside [0, len(channels)).
	ErrPeekIndexOutOfRange = errors.New("rspace: peek index out of range")
	// ErrInstallAfterStartup indicates install found a match against existing
	// data; installs are only valid on an empty, startup-time space.
	ErrInstallAfterStartup = errors.New("rspace: installing can be done only on startup")
	// ErrSpaceClosed indicates an operation was attempted on a closed Space.
	ErrSpaceClosed = errors.New("rspace: space is closed")
	// ErrIndexInvariant indicates a caller violated the descending-index
	// mutation invariant documented on hotStore.removeDatum/removeContinuation.
	ErrIndexInvariant = errors.New("rspace: index mutation invariant violated")
	// ErrReplayDivergence indicates a replay session could not find a
	// rigged COMM matching the candidate it was about to commit, or that
	// rigged COMM entries remained unconsumed at the end of the session.
	ErrReplayDivergence = errors.New("rspace: replay diverged from rigged log")
	// ErrNotReplaying indicates a replay-only operation was invoked on a
	// Space that was not put into replay mode via Rig.
	ErrNotReplaying = errors.New("rspace: space is not in replay mode")
	// ErrChannelDecodeFailed indicates a channel tuple read back from
	// history held a concrete type that no longer satisfies Channel —
	// almost always a caller's Channel implementation was never
	// gob.Register'd before the tuple was checkpointed.
	ErrChannelDecodeFailed = errors.New("rspace: stored channel tuple has an unregistered or incompatible type")
)
