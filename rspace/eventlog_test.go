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
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dylon/f1r3fly/crypto/hash"
)

func TestEventLogAppendAndDrain(t *testing.T) {
	Convey("Given a fresh event log", t, func() {
		l := newEventLog()
		c := &Consume{Channels: []Channel{StrChan("c")}, K: "k"}
		p := &Produce{Channel: StrChan("c"), Data: 1}
		comm := &COMM{Consume: hash.HashH([]byte("x"))}

		l.appendConsume(c)
		l.appendProduce(p)
		l.appendComm(comm)

		Convey("drain empties both the events and the produce counter", func() {
			ref := hash.HashH([]byte("p1"))
			So(l.bump(ref), ShouldEqual, 1)
			So(l.bump(ref), ShouldEqual, 2)

			events, produces := l.drain()
			So(events, ShouldHaveLength, 3)
			So(produces[ref], ShouldEqual, 2)

			moreEvents, moreProduces := l.drain()
			So(moreEvents, ShouldBeEmpty)
			So(moreProduces, ShouldBeEmpty)
		})

		Convey("drainEvents empties only the events, not the counter", func() {
			ref := hash.HashH([]byte("p1"))
			l.bump(ref)

			events := l.drainEvents()
			So(events, ShouldHaveLength, 3)

			moreEvents := l.drainEvents()
			So(moreEvents, ShouldBeEmpty)

			_, produces := l.drain()
			So(produces[ref], ShouldEqual, 1)
		})

		Convey("snapshot copies without draining", func() {
			events, _ := l.snapshot()
			So(events, ShouldHaveLength, 3)
			stillThere, _ := l.drain()
			So(stillThere, ShouldHaveLength, 3)
		})

		Convey("restore replaces the log and counter wholesale", func() {
			ref := hash.HashH([]byte("p2"))
			l.restore([]Event{{Kind: EventProduce, Produce: p}}, map[hash.Hash]int{ref: 5})
			events, produces := l.drain()
			So(events, ShouldHaveLength, 1)
			So(produces[ref], ShouldEqual, 5)
		})
	})
}
