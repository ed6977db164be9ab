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

package history

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dylon/f1r3fly/crypto/hash"
)

func TestMemRepository(t *testing.T) {
	Convey("Given a fresh MemRepository", t, func() {
		repo := NewMemRepository()
		root := repo.EmptyRoot()
		chanHash := hash.HashH([]byte("stdout"))

		Convey("the empty root reads back no data", func() {
			rd, err := repo.GetHistoryReader(root)
			So(err, ShouldBeNil)
			data, err := rd.GetData(chanHash)
			So(err, ShouldBeNil)
			So(data, ShouldBeEmpty)
		})

		Convey("checkpointing a delta advances to a new, distinct root", func() {
			delta := &Delta{
				Data: map[hash.Hash][]StoredDatum{
					chanHash: {{Payload: "hello", Persist: false, Source: hash.HashH([]byte("p1"))}},
				},
			}
			newRoot, err := repo.Checkpoint(root, delta)
			So(err, ShouldBeNil)
			So(newRoot, ShouldNotEqual, root)

			rd, err := repo.GetHistoryReader(newRoot)
			So(err, ShouldBeNil)
			data, err := rd.GetData(chanHash)
			So(err, ShouldBeNil)
			So(data, ShouldHaveLength, 1)
			So(data[0].Payload, ShouldEqual, "hello")

			Convey("the old root is unaffected (history is immutable)", func() {
				oldReader, err := repo.GetHistoryReader(root)
				So(err, ShouldBeNil)
				data, err := oldReader.GetData(chanHash)
				So(err, ShouldBeNil)
				So(data, ShouldBeEmpty)
			})
		})

		Convey("checkpointing against an unknown root fails", func() {
			_, err := repo.Checkpoint(hash.HashH([]byte("nonsense")), &Delta{})
			So(err, ShouldEqual, ErrRootNotFound)
		})

		Convey("a checkpointed tuple resolves by its hash from a later root", func() {
			tupleHash := hash.HashH([]byte("c1:c2"))
			delta := &Delta{
				Tuples: map[hash.Hash][]interface{}{
					tupleHash: {"c1", "c2"},
				},
			}
			root2, err := repo.Checkpoint(root, delta)
			So(err, ShouldBeNil)

			root3, err := repo.Checkpoint(root2, &Delta{})
			So(err, ShouldBeNil)

			rd, err := repo.GetHistoryReader(root3)
			So(err, ShouldBeNil)
			tuple, err := rd.GetTuple(tupleHash)
			So(err, ShouldBeNil)
			So(tuple, ShouldResemble, []interface{}{"c1", "c2"})

			missing, err := rd.GetTuple(hash.HashH([]byte("nope")))
			So(err, ShouldBeNil)
			So(missing, ShouldBeNil)
		})
	})
}
