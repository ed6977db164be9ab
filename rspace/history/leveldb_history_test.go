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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dylon/f1r3fly/crypto/hash"
)

func TestLevelDBRepository(t *testing.T) {
	Convey("Given a LevelDB-backed repository", t, func() {
		dir := filepath.Join(os.TempDir(), fmt.Sprintf("rspace-history-%d", os.Getpid()))
		defer os.RemoveAll(dir)

		repo, err := NewLevelDBRepository(dir)
		So(err, ShouldBeNil)
		defer repo.Close()

		root := repo.EmptyRoot()
		chanHash := hash.HashH([]byte("stdout"))

		Convey("data checkpointed under one root resolves through the parent chain", func() {
			delta := &Delta{
				Data: map[hash.Hash][]StoredDatum{
					chanHash: {{Payload: "hi", Persist: true, Source: hash.HashH([]byte("p1"))}},
				},
			}
			root2, err := repo.Checkpoint(root, delta)
			So(err, ShouldBeNil)

			// A second checkpoint that touches a *different* channel must
			// still resolve the first channel's data by walking back to
			// root2.
			otherChan := hash.HashH([]byte("stderr"))
			root3, err := repo.Checkpoint(root2, &Delta{
				Data: map[hash.Hash][]StoredDatum{
					otherChan: {{Payload: "oops", Persist: false, Source: hash.HashH([]byte("p2"))}},
				},
			})
			So(err, ShouldBeNil)

			rd, err := repo.GetHistoryReader(root3)
			So(err, ShouldBeNil)
			data, err := rd.GetData(chanHash)
			So(err, ShouldBeNil)
			So(data, ShouldHaveLength, 1)
			So(data[0].Payload, ShouldEqual, "hi")

			data2, err := rd.GetData(otherChan)
			So(err, ShouldBeNil)
			So(data2, ShouldHaveLength, 1)
			So(data2[0].Payload, ShouldEqual, "oops")
		})

		Convey("an unknown root is rejected", func() {
			_, err := repo.GetHistoryReader(hash.HashH([]byte("made-up")))
			So(err, ShouldEqual, ErrRootNotFound)
		})

		Convey("a checkpointed tuple survives an intervening checkpoint and resolves through the parent chain", func() {
			tupleHash := hash.HashH([]byte("c1:c2"))
			root2, err := repo.Checkpoint(root, &Delta{
				Tuples: map[hash.Hash][]interface{}{
					tupleHash: {"c1", "c2"},
				},
			})
			So(err, ShouldBeNil)

			root3, err := repo.Checkpoint(root2, &Delta{})
			So(err, ShouldBeNil)

			rd, err := repo.GetHistoryReader(root3)
			So(err, ShouldBeNil)
			tuple, err := rd.GetTuple(tupleHash)
			So(err, ShouldBeNil)
			So(tuple, ShouldResemble, []interface{}{"c1", "c2"})
		})
	})
}
