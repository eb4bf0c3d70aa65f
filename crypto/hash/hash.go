// Package hash includes the hashing utilities used by the admission core:
// sha256 content digests for request fingerprints and cache keys.
package hash

import (
	"hash"
	"sync"

	"github.com/minio/sha256-simd"
)

var sha256Pool = sync.Pool{New: func() interface{} {
	return sha256.New()
}}

// Hash returns the sha256 checksum of the data passed in.
func Hash(data []byte) [32]byte {
	h, ok := sha256Pool.Get().(hash.Hash)
	if !ok {
		h = sha256.New()
	}
	defer sha256Pool.Put(h)
	h.Reset()

	var b [32]byte
	// #nosec G104 -- the hash.Hash interface never returns an error on Write.
	h.Write(data)
	h.Sum(b[:0])
	return b
}

// New returns a streaming sha256 hasher for callers that digest content
// field by field. The caller owns the returned hasher; it is not pooled.
func New() hash.Hash {
	return sha256.New()
}
