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
	"sort"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWildcardMatcher(t *testing.T) {
	Convey("Given a WildcardMatcher", t, func() {
		var m WildcardMatcher

		Convey("Wildcard{} accepts any datum", func() {
			rw, ok, err := m.Match(Wildcard{}, 42)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(rw, ShouldEqual, 42)
		})

		Convey("a concrete pattern falls back to equality", func() {
			_, ok, err := m.Match(7, 7)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			_, ok, err = m.Match(7, 8)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestEqualMatcher(t *testing.T) {
	Convey("EqualMatcher matches iff pattern == datum", t, func() {
		var m EqualMatcher
		_, ok, err := m.Match("x", "x")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		_, ok, err = m.Match("x", "y")
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)
	})
}

func TestFuncMatcher(t *testing.T) {
	Convey("FuncMatcher adapts a predicate and can report errors", t, func() {
		boom := errors.New("boom")
		var m Matcher = FuncMatcher(func(pattern, a interface{}) (interface{}, bool, error) {
			if a == "explode" {
				return nil, false, boom
			}
			return a, pattern == a, nil
		})

		_, ok, err := m.Match("x", "x")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		_, _, err = m.Match("x", "explode")
		So(err, ShouldEqual, boom)
	})
}

func TestExtractFirstMatch(t *testing.T) {
	Convey("ExtractFirstMatch honors the given order and returns the first hit", t, func() {
		data := []Datum{{A: 1}, {A: 2}, {A: 3}}

		idx, rw, ok, err := ExtractFirstMatch(EqualMatcher{}, 2, data, []int{0, 1, 2})
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(idx, ShouldEqual, 1)
		So(rw, ShouldEqual, 2)

		_, _, ok, err = ExtractFirstMatch(EqualMatcher{}, 99, data, []int{0, 1, 2})
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)
	})
}

func TestExtractDataCandidatesIsAPermutation(t *testing.T) {
	Convey("ExtractDataCandidates returns every index exactly once", t, func() {
		data := make([]Datum, 10)
		order := ExtractDataCandidates(data)
		So(order, ShouldHaveLength, 10)
		sorted := append([]int(nil), order...)
		sort.Ints(sorted)
		for i, v := range sorted {
			So(v, ShouldEqual, i)
		}
	})
}
