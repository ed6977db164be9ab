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

import "github.com/dylon/f1r3fly/crypto/hash"

// eventLog is the per-session ordered record of Consume/Produce/Comm events
// plus the produce repeat counter. Both are single-writer
// slots, always mutated under Space.mu, so draining either is trivially
// atomic with respect to every other Space method.
type eventLog struct {
	events   []Event
	produces map[hash.Hash]int
}

func newEventLog() *eventLog {
	return &eventLog{produces: make(map[hash.Hash]int)}
}

func (l *eventLog) appendConsume(c *Consume) {
	l.events = append(l.events, Event{Kind: EventConsume, Consume: c})
}

func (l *eventLog) appendProduce(p *Produce) {
	l.events = append(l.events, Event{Kind: EventProduce, Produce: p})
}

func (l *eventLog) appendComm(c *COMM) {
	l.events = append(l.events, Event{Kind: EventComm, Comm: c})
}

// bump increments the produce counter for ref, returning the new value.
func (l *eventLog) bump(ref hash.Hash) int {
	l.produces[ref]++
	return l.produces[ref]
}

// drain empties the log and counter, returning their prior contents.
func (l *eventLog) drain() ([]Event, map[hash.Hash]int) {
	events := l.events
	produces := l.produces
	l.events = nil
	l.produces = make(map[hash.Hash]int)
	return events, produces
}

// drainEvents empties only the event log, leaving the produce counter
// untouched. createCheckpoint uses this: the produce counter survives
// createCheckpoint and drains only on the soft-checkpoint/reset path.
func (l *eventLog) drainEvents() []Event {
	events := l.events
	l.events = nil
	return events
}

// restore replaces the log and counter wholesale, used by
// revertToSoftCheckpoint.
func (l *eventLog) restore(events []Event, produces map[hash.Hash]int) {
	l.events = append([]Event(nil), events...)
	l.produces = make(map[hash.Hash]int, len(produces))
	for k, v := range produces {
		l.produces[k] = v
	}
}

// snapshot returns a copy of the current log and counter without draining
// them.
func (l *eventLog) snapshot() ([]Event, map[hash.Hash]int) {
	events := append([]Event(nil), l.events...)
	produces := make(map[hash.Hash]int, len(l.produces))
	for k, v := range l.produces {
		produces[k] = v
	}
	return events, produces
}
