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

package hash

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	yaml "gopkg.in/yaml.v2"
)

func TestHash(t *testing.T) {
	Convey("Given two distinct byte strings", t, func() {
		a := HashH([]byte("rho:registry:lookup"))
		b := HashH([]byte("rho:registry:insert"))

		Convey("their digests differ", func() {
			So(a.IsEqual(&b), ShouldBeFalse)
		})

		Convey("hashing the same bytes twice is deterministic", func() {
			a2 := HashH([]byte("rho:registry:lookup"))
			So(a.IsEqual(&a2), ShouldBeTrue)
		})

		Convey("round trips through its string encoding", func() {
			s := a.String()
			h2, err := NewFromStr(s)
			So(err, ShouldBeNil)
			So(h2.IsEqual(&a), ShouldBeTrue)
		})

		Convey("round trips through JSON", func() {
			blob, err := json.Marshal(a)
			So(err, ShouldBeNil)
			var out Hash
			So(json.Unmarshal(blob, &out), ShouldBeNil)
			So(out.IsEqual(&a), ShouldBeTrue)
		})

		Convey("round trips through YAML", func() {
			blob, err := yaml.Marshal(a)
			So(err, ShouldBeNil)
			var out Hash
			So(yaml.Unmarshal(blob, &out), ShouldBeNil)
			So(out.IsEqual(&a), ShouldBeTrue)
		})
	})

	Convey("Given a slice of hashes with duplicates", t, func() {
		h1 := HashH([]byte("c1"))
		h2 := HashH([]byte("c2"))
		hs := []Hash{h2, h1, h2, h1}

		Convey("SortHashes imposes a total order", func() {
			sorted := SortHashes(hs)
			So(len(sorted), ShouldEqual, 4)
			So(sorted[0].Less(sorted[1]) || sorted[0] == sorted[1], ShouldBeTrue)
		})

		Convey("DedupSorted collapses adjacent duplicates", func() {
			deduped := DedupSorted(SortHashes(hs))
			So(len(deduped), ShouldEqual, 2)
		})
	})
}

func TestNewFromStrInvalidLength(t *testing.T) {
	Convey("Given a hash string longer than MaxStringSize", t, func() {
		long := make([]byte, MaxStringSize+2)
		for i := range long {
			long[i] = 'a'
		}
		_, err := NewFromStr(string(long))
		Convey("decoding fails with ErrStrSize", func() {
			So(err, ShouldEqual, ErrStrSize)
		})
	})
}
