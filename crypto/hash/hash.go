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
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	blake2b "github.com/minio/blake2b-simd"
)

// Size of the digest produced by the hasher in this package.
const Size = 32

// MaxStringSize is the maximum length of a hex-encoded Hash string.
const MaxStringSize = Size * 2

// ErrStrSize describes an error that indicates the caller specified a hash
// string that has too many characters.
var ErrStrSize = fmt.Errorf("max hash string length is %v bytes", MaxStringSize)

// Hash is the canonical, content-addressable digest used for channel lock
// keys, channel storage addressing, and structural Produce/Consume
// references. It is always the BLAKE2b-256 digest of a canonical byte
// encoding; nothing in this package cares how that encoding was produced.
type Hash [Size]byte

// String returns the hexadecimal string encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the hexadecimal string of the first n bytes of the hash.
func (h Hash) Short(n int) string {
	l := Size
	if n < l {
		l = n
	}
	return hex.EncodeToString(h[:l])
}

// AsBytes returns the internal bytes of the hash. Callers must not mutate
// the returned slice.
func (h Hash) AsBytes() []byte {
	return h[:]
}

// CloneBytes returns a copy of the bytes backing the hash.
func (h Hash) CloneBytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// SetBytes sets the bytes which represent the hash. It is an error if the
// number of bytes passed in is not Size.
func (h *Hash) SetBytes(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("invalid hash length of %v, want %v", len(b), Size)
	}
	copy(h[:], b)
	return nil
}

// IsEqual reports whether target is the same hash as h. Two nil-receivers
// compare equal; a nil and a non-nil never do.
func (h *Hash) IsEqual(target *Hash) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// Less gives Hash a total order, used by rspace/hashlock to acquire lock
// keys in a fixed sequence regardless of discovery order.
func (h Hash) Less(o Hash) bool {
	return bytes.Compare(h[:], o[:]) < 0
}

// MarshalJSON implements the json.Marshaler interface.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return Decode(h, s)
}

// MarshalYAML implements the yaml.Marshaler interface.
func (h Hash) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *Hash) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return Decode(h, s)
}

// New returns a new Hash from a byte slice. It is an error if the number of
// bytes passed in is not Size.
func New(b []byte) (*Hash, error) {
	var h Hash
	if err := h.SetBytes(b); err != nil {
		return nil, err
	}
	return &h, nil
}

// NewFromStr creates a Hash from its hexadecimal string encoding.
func NewFromStr(s string) (*Hash, error) {
	h := new(Hash)
	if err := Decode(h, s); err != nil {
		return nil, err
	}
	return h, nil
}

// Decode decodes the hexadecimal string encoding of a Hash into dst.
func Decode(dst *Hash, src string) error {
	if len(src) > MaxStringSize {
		return ErrStrSize
	}
	raw, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	copy(dst[Size-len(raw):], raw)
	return nil
}

// HashB computes the BLAKE2b-256 digest of b and returns the raw bytes.
func HashB(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}

// HashH computes the BLAKE2b-256 digest of b and returns it as a Hash.
func HashH(b []byte) Hash {
	return Hash(blake2b.Sum256(b))
}

// SortHashes returns a newly allocated, ascending-sorted copy of hs. Used by
// rspace/hashlock to fix the key-acquisition order within one phase.
func SortHashes(hs []Hash) []Hash {
	out := make([]Hash, len(hs))
	copy(out, hs)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// DedupSorted removes adjacent duplicates from an already-sorted slice,
// returning a possibly-shorter slice sharing no backing array with hs.
func DedupSorted(hs []Hash) []Hash {
	if len(hs) == 0 {
		return hs
	}
	out := make([]Hash, 0, len(hs))
	out = append(out, hs[0])
	for _, h := range hs[1:] {
		if h != out[len(out)-1] {
			out = append(out, h)
		}
	}
	return out
}
