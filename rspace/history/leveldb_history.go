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
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/dylon/f1r3fly/crypto/hash"
)

var (
	rootMarkerPrefix = []byte{'R', 'K'}
	rootParentPrefix = []byte{'R', 'P'}
	dataKeyPrefix    = []byte{'R', 'D'}
	contKeyPrefix    = []byte{'R', 'C'}
	joinKeyPrefix    = []byte{'R', 'J'}
	tupleKeyPrefix   = []byte{'R', 'T'}
)

func init() {
	// gob requires every concrete type ever stored behind an interface{}
	// (Datum.A, pattern/continuation payloads) to be registered before it
	// can be encoded or decoded. The scalar kinds below cover the common
	// case for tests and simple deployments; callers persisting richer
	// payload types must gob.Register them at startup too.
	gob.Register("")
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(0.0)
	gob.Register(false)
	gob.Register([]byte(nil))
	gob.Register([]interface{}(nil))
	gob.Register(map[string]interface{}(nil))
}

// LevelDBRepository is the durable Repository: one goleveldb database
// holding every checkpointed root, with each non-empty root chained to its
// parent so unmodified channels resolve by walking the chain instead of
// being copied forward.
//
// Payload types (Datum.A, pattern values, continuation K values) are
// encoded with encoding/gob; callers that checkpoint custom concrete types
// through an interface{} field must gob.Register them once at startup, the
// same constraint encoding/gob always imposes.
type LevelDBRepository struct {
	db     *leveldb.DB
	empty  hash.Hash
	seq    uint64
	mu     sync.Mutex
	closed uint32
}

// NewLevelDBRepository opens (or creates) a LevelDB-backed Repository at
// filename.
func NewLevelDBRepository(filename string) (*LevelDBRepository, error) {
	db, err := leveldb.OpenFile(filename, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb failed")
	}
	r := &LevelDBRepository{
		db:    db,
		empty: hash.HashH([]byte("rspace:empty-root")),
	}
	if err := r.db.Put(rootKey(rootMarkerPrefix, r.empty), []byte{1}, nil); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "seed empty root failed")
	}
	return r, nil
}

// EmptyRoot implements Repository.
func (r *LevelDBRepository) EmptyRoot() hash.Hash { return r.empty }

// Close implements Repository.
func (r *LevelDBRepository) Close() error {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return nil
	}
	return r.db.Close()
}

func (r *LevelDBRepository) rootExists(root hash.Hash) (bool, error) {
	_, err := r.db.Get(rootKey(rootMarkerPrefix, root), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "check root marker failed")
	}
	return true, nil
}

func (r *LevelDBRepository) parentOf(root hash.Hash) (hash.Hash, bool, error) {
	v, err := r.db.Get(rootKey(rootParentPrefix, root), nil)
	if err == leveldb.ErrNotFound {
		return hash.Hash{}, false, nil
	}
	if err != nil {
		return hash.Hash{}, false, errors.Wrap(err, "read parent root failed")
	}
	var parent hash.Hash
	copy(parent[:], v)
	return parent, true, nil
}

// GetHistoryReader implements Repository.
func (r *LevelDBRepository) GetHistoryReader(root hash.Hash) (Reader, error) {
	ok, err := r.rootExists(root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRootNotFound
	}
	return &levelReader{repo: r, root: root}, nil
}

// Checkpoint implements Repository: every touched key in delta already
// carries its full post-mutation content (the hot store seeds from a
// read-through before appending), so Checkpoint only needs to persist
// those keys under the new root and chain the root to its parent for
// untouched channels to resolve through.
func (r *LevelDBRepository) Checkpoint(root hash.Hash, delta *Delta) (hash.Hash, error) {
	ok, err := r.rootExists(root)
	if err != nil {
		return hash.Hash{}, err
	}
	if !ok {
		return hash.Hash{}, ErrRootNotFound
	}

	r.mu.Lock()
	seq := atomic.AddUint64(&r.seq, 1)
	r.mu.Unlock()
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	newRoot := hash.HashH(append(root.CloneBytes(), seqBytes[:]...))

	batch := new(leveldb.Batch)
	batch.Put(rootKey(rootMarkerPrefix, newRoot), []byte{1})
	batch.Put(rootKey(rootParentPrefix, newRoot), root.CloneBytes())

	for h, list := range delta.Data {
		enc, err := encodeGob(list)
		if err != nil {
			return hash.Hash{}, errors.Wrap(err, "encode data failed")
		}
		batch.Put(entryKey(dataKeyPrefix, newRoot, h), enc)
	}
	for h, list := range delta.Continuations {
		enc, err := encodeGob(list)
		if err != nil {
			return hash.Hash{}, errors.Wrap(err, "encode continuations failed")
		}
		batch.Put(entryKey(contKeyPrefix, newRoot, h), enc)
	}
	for h, list := range delta.Joins {
		enc, err := encodeGob(list)
		if err != nil {
			return hash.Hash{}, errors.Wrap(err, "encode joins failed")
		}
		batch.Put(entryKey(joinKeyPrefix, newRoot, h), enc)
	}
	for h, tuple := range delta.Tuples {
		enc, err := encodeGob(tuple)
		if err != nil {
			return hash.Hash{}, errors.Wrap(err, "encode tuple failed")
		}
		batch.Put(entryKey(tupleKeyPrefix, newRoot, h), enc)
	}

	if err := r.db.Write(batch, nil); err != nil {
		return hash.Hash{}, errors.Wrap(err, "write checkpoint batch failed")
	}
	return newRoot, nil
}

type levelReader struct {
	repo *LevelDBRepository
	root hash.Hash
}

func (l *levelReader) Base() hash.Hash { return l.root }

func (l *levelReader) GetData(c hash.Hash) ([]StoredDatum, error) {
	var out []StoredDatum
	found, err := l.repo.resolve(l.root, dataKeyPrefix, c, &out)
	if err != nil || !found {
		return nil, err
	}
	return out, nil
}

func (l *levelReader) GetContinuations(cs hash.Hash) ([]StoredContinuation, error) {
	var out []StoredContinuation
	found, err := l.repo.resolve(l.root, contKeyPrefix, cs, &out)
	if err != nil || !found {
		return nil, err
	}
	return out, nil
}

func (l *levelReader) GetJoins(c hash.Hash) ([]hash.Hash, error) {
	var out []hash.Hash
	found, err := l.repo.resolve(l.root, joinKeyPrefix, c, &out)
	if err != nil || !found {
		return nil, err
	}
	return out, nil
}

func (l *levelReader) GetTuple(th hash.Hash) ([]interface{}, error) {
	var out []interface{}
	found, err := l.repo.resolve(l.root, tupleKeyPrefix, th, &out)
	if err != nil || !found {
		return nil, err
	}
	return out, nil
}

// resolve walks the root's parent chain until it finds an entry for key
// under prefix, or reaches the empty root without finding one.
func (r *LevelDBRepository) resolve(root hash.Hash, prefix []byte, key hash.Hash, out interface{}) (bool, error) {
	cur := root
	for {
		v, err := r.db.Get(entryKey(prefix, cur, key), nil)
		if err == nil {
			return true, errors.Wrap(decodeGob(v, out), "decode history entry failed")
		}
		if err != leveldb.ErrNotFound {
			return false, errors.Wrap(err, "read history entry failed")
		}
		if cur == r.empty {
			return false, nil
		}
		parent, ok, err := r.parentOf(cur)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		cur = parent
	}
}

func rootKey(prefix []byte, root hash.Hash) []byte {
	return append(append([]byte(nil), prefix...), root.AsBytes()...)
}

func entryKey(prefix []byte, root, key hash.Hash) []byte {
	buf := make([]byte, 0, len(prefix)+2*hash.Size)
	buf = append(buf, prefix...)
	buf = append(buf, root.AsBytes()...)
	buf = append(buf, key.AsBytes()...)
	return buf
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(out)
}
