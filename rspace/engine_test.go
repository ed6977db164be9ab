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
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dylon/f1r3fly/rspace/history"
)

func newTestSpace(t *testing.T) *Space {
	sp, err := NewSpace(history.NewMemRepository(), WildcardMatcher{}, nil)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp
}

func TestConsumeProduceBasicMatch(t *testing.T) {
	Convey("S1: a two-channel join matches once both channels are produced", t, func() {
		sp := newTestSpace(t)
		c1, c2 := StrChan("c1"), StrChan("c2")
		ctx := context.Background()

		r, err := sp.Consume(ctx, []Channel{c1, c2}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, nil)
		So(err, ShouldBeNil)
		So(r, ShouldBeNil)

		r, err = sp.Produce(ctx, c1, 1, false)
		So(err, ShouldBeNil)
		So(r, ShouldBeNil)

		r, err = sp.Produce(ctx, c2, 2, false)
		So(err, ShouldBeNil)
		So(r, ShouldNotBeNil)
		So(r.Cont.K, ShouldEqual, "k")
		So(r.Results, ShouldHaveLength, 2)
		So(r.Results[0].A, ShouldEqual, 1)
		So(r.Results[0].RemovedDatum, ShouldBeTrue)
		So(r.Results[1].A, ShouldEqual, 2)
		So(r.Results[1].RemovedDatum, ShouldBeTrue)

		data1, _ := sp.GetData(c1)
		data2, _ := sp.GetData(c2)
		So(data1, ShouldBeEmpty)
		So(data2, ShouldBeEmpty)
		conts, _ := sp.GetWaitingContinuations([]Channel{c1, c2})
		So(conts, ShouldBeEmpty)
	})
}

func TestPersistentProducer(t *testing.T) {
	Convey("S2: a persistent datum survives repeated matches", t, func() {
		sp := newTestSpace(t)
		c := StrChan("c")
		ctx := context.Background()

		r, err := sp.Produce(ctx, c, "x", true)
		So(err, ShouldBeNil)
		So(r, ShouldBeNil)

		r, err = sp.Consume(ctx, []Channel{c}, []interface{}{Wildcard{}}, "k1", false, nil)
		So(err, ShouldBeNil)
		So(r, ShouldNotBeNil)
		So(r.Results[0].RemovedDatum, ShouldBeFalse)

		data, _ := sp.GetData(c)
		So(data, ShouldHaveLength, 1)
		So(data[0].Persist, ShouldBeTrue)

		r, err = sp.Consume(ctx, []Channel{c}, []interface{}{Wildcard{}}, "k2", false, nil)
		So(err, ShouldBeNil)
		So(r, ShouldNotBeNil)
	})
}

func TestPeekRetainsDatum(t *testing.T) {
	Convey("S3: a peeked channel's datum is retained after the match", t, func() {
		sp := newTestSpace(t)
		c1, c2 := StrChan("c1"), StrChan("c2")
		ctx := context.Background()

		_, err := sp.Consume(ctx, []Channel{c1, c2}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, NewPeekSet(0))
		So(err, ShouldBeNil)

		_, err = sp.Produce(ctx, c1, 1, false)
		So(err, ShouldBeNil)
		r, err := sp.Produce(ctx, c2, 2, false)
		So(err, ShouldBeNil)
		So(r, ShouldNotBeNil)
		So(r.Results[0].RemovedDatum, ShouldBeFalse)
		So(r.Results[1].RemovedDatum, ShouldBeTrue)

		data1, _ := sp.GetData(c1)
		data2, _ := sp.GetData(c2)
		So(data1, ShouldHaveLength, 1)
		So(data2, ShouldBeEmpty)
	})
}

func TestInstallOnlyAtStartup(t *testing.T) {
	Convey("S4: install fails once a matching datum already exists", t, func() {
		sp := newTestSpace(t)
		c := StrChan("c")
		ctx := context.Background()

		err := sp.Install(ctx, []Channel{c}, []interface{}{Wildcard{}}, "k")
		So(err, ShouldBeNil)

		r, err := sp.Produce(ctx, c, 1, false)
		So(err, ShouldBeNil)
		So(r, ShouldNotBeNil)

		conts, _ := sp.GetWaitingContinuations([]Channel{c})
		So(conts, ShouldHaveLength, 1)
		So(conts[0].Persist, ShouldBeTrue)

		Convey("installing over a channel that already holds a matching datum is a permanent error", func() {
			// c's installed continuation consumes every produce on c, so the
			// pre-existing datum is placed on a channel with no install.
			d := StrChan("d")
			_, err := sp.Produce(ctx, d, 2, false)
			So(err, ShouldBeNil)
			err = sp.Install(ctx, []Channel{d}, []interface{}{Wildcard{}}, "k2")
			So(err, ShouldEqual, ErrInstallAfterStartup)
		})
	})
}

func TestReplayFidelity(t *testing.T) {
	Convey("S5: replaying a recorded log reproduces the same commits", t, func() {
		sp := newTestSpace(t)
		c1, c2 := StrChan("c1"), StrChan("c2")
		ctx := context.Background()

		_, err := sp.Consume(ctx, []Channel{c1, c2}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, nil)
		So(err, ShouldBeNil)
		_, err = sp.Produce(ctx, c1, 1, false)
		So(err, ShouldBeNil)
		_, err = sp.Produce(ctx, c2, 2, false)
		So(err, ShouldBeNil)

		_, log, err := sp.CreateCheckpoint()
		So(err, ShouldBeNil)
		So(log, ShouldHaveLength, 3)

		So(sp.Clear(), ShouldBeNil)

		rs := NewReplaySpace(sp)
		So(rs.Rig(log), ShouldBeNil)

		_, err = rs.Consume(ctx, []Channel{c1, c2}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, nil)
		So(err, ShouldBeNil)
		_, err = rs.Produce(ctx, c1, 1, false)
		So(err, ShouldBeNil)
		r, err := rs.Produce(ctx, c2, 2, false)
		So(err, ShouldBeNil)
		So(r, ShouldNotBeNil)

		So(rs.CheckReplayData(), ShouldBeNil)

		Convey("an alternative produce during replay diverges", func() {
			sp2 := newTestSpace(t)
			_, err := sp2.Consume(ctx, []Channel{c1, c2}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, nil)
			So(err, ShouldBeNil)

			rs2 := NewReplaySpace(sp2)
			So(rs2.Rig(log), ShouldBeNil)

			_, err = rs2.Produce(ctx, c1, 99, false)
			So(err, ShouldEqual, ErrReplayDivergence)
		})
	})
}

func TestNewSpaceWithConfigSizesLockManager(t *testing.T) {
	Convey("NewSpaceWithConfig rejects a non-positive idle lock cache size", t, func() {
		cfg := DefaultConfig()
		cfg.IdleLockCacheSize = 0

		_, err := NewSpaceWithConfig(cfg, history.NewMemRepository(), WildcardMatcher{}, nil)
		So(err, ShouldNotBeNil)
	})

	Convey("NewSpaceWithConfig with a valid size builds a usable Space", t, func() {
		cfg := DefaultConfig()
		sp, err := NewSpaceWithConfig(cfg, history.NewMemRepository(), WildcardMatcher{}, nil)
		So(err, ShouldBeNil)

		c := StrChan("c")
		ctx := context.Background()
		r, err := sp.Produce(ctx, c, 1, false)
		So(err, ShouldBeNil)
		So(r, ShouldBeNil)
	})
}

func TestReplayRequiresRig(t *testing.T) {
	Convey("a ReplaySpace refuses Consume/Produce before Rig", t, func() {
		sp := newTestSpace(t)
		c := StrChan("c")
		ctx := context.Background()

		rs := NewReplaySpace(sp)

		_, err := rs.Consume(ctx, []Channel{c}, []interface{}{Wildcard{}}, "k", false, nil)
		So(err, ShouldEqual, ErrNotReplaying)

		_, err = rs.Produce(ctx, c, 1, false)
		So(err, ShouldEqual, ErrNotReplaying)

		So(rs.Rig(nil), ShouldBeNil)
		_, err = rs.Produce(ctx, c, 1, false)
		So(err, ShouldBeNil)
	})
}

func TestLockInducedSerialization(t *testing.T) {
	Convey("S6: exactly one of two concurrent produces observes the match", t, func() {
		sp := newTestSpace(t)
		a, b := StrChan("a"), StrChan("b")
		ctx := context.Background()

		_, err := sp.Consume(ctx, []Channel{a, b}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, nil)
		So(err, ShouldBeNil)

		var wg sync.WaitGroup
		results := make([]*ProduceResult, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0], _ = sp.Produce(ctx, a, 1, false)
		}()
		go func() {
			defer wg.Done()
			results[1], _ = sp.Produce(ctx, b, 2, false)
		}()
		wg.Wait()

		matches := 0
		for _, r := range results {
			if r != nil {
				matches++
			}
		}
		So(matches, ShouldEqual, 1)

		conts, _ := sp.GetWaitingContinuations([]Channel{a, b})
		So(conts, ShouldBeEmpty)
	})
}

func TestSoftCheckpointRoundTrip(t *testing.T) {
	Convey("soft-checkpoint create/revert restores hot store and event log", t, func() {
		sp := newTestSpace(t)
		c := StrChan("c")
		ctx := context.Background()

		_, err := sp.Produce(ctx, c, "x", false)
		So(err, ShouldBeNil)

		sc, err := sp.CreateSoftCheckpoint()
		So(err, ShouldBeNil)

		_, err = sp.Produce(ctx, c, "y", false)
		So(err, ShouldBeNil)
		data, _ := sp.GetData(c)
		So(data, ShouldHaveLength, 2)

		So(sp.RevertToSoftCheckpoint(sc), ShouldBeNil)
		data, _ = sp.GetData(c)
		So(data, ShouldHaveLength, 1)
		So(data[0].A, ShouldEqual, "x")
	})
}

func TestProduceMatchesContinuationAfterCheckpoint(t *testing.T) {
	Convey("a waiting continuation checkpointed into cold history is still reachable by produce", t, func() {
		sp := newTestSpace(t)
		c1, c2 := StrChan("c1"), StrChan("c2")
		ctx := context.Background()

		_, err := sp.Consume(ctx, []Channel{c1, c2}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, nil)
		So(err, ShouldBeNil)

		// CreateCheckpoint folds the continuation and its join into history
		// and resets the hot store to an empty overlay over the new root —
		// nothing about the continuation's channel tuple remains in memory.
		_, _, err = sp.CreateCheckpoint()
		So(err, ShouldBeNil)

		r, err := sp.Produce(ctx, c1, 1, false)
		So(err, ShouldBeNil)
		So(r, ShouldBeNil)

		r, err = sp.Produce(ctx, c2, 2, false)
		So(err, ShouldBeNil)
		So(r, ShouldNotBeNil)
		So(r.Cont.K, ShouldEqual, "k")
		So(r.Results, ShouldHaveLength, 2)

		conts, _ := sp.GetWaitingContinuations([]Channel{c1, c2})
		So(conts, ShouldBeEmpty)
	})
}

func TestJoinSymmetry(t *testing.T) {
	Convey("every channel of a waiting continuation's tuple carries that tuple in its joins", t, func() {
		sp := newTestSpace(t)
		c1, c2 := StrChan("j1"), StrChan("j2")
		ctx := context.Background()

		_, err := sp.Consume(ctx, []Channel{c1, c2}, []interface{}{Wildcard{}, Wildcard{}}, "k", false, nil)
		So(err, ShouldBeNil)

		joins1, err := sp.GetJoins(c1)
		So(err, ShouldBeNil)
		So(joins1, ShouldHaveLength, 1)
		So(joins1[0], ShouldResemble, []Channel{c1, c2})

		joins2, err := sp.GetJoins(c2)
		So(err, ShouldBeNil)
		So(joins2, ShouldHaveLength, 1)
	})
}
