package hash_test

import (
	"crypto/sha256"
	"testing"

	"github.com/gatekit/gatekit/crypto/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMatchesStdlib(t *testing.T) {
	for _, input := range [][]byte{nil, {}, []byte("abc"), make([]byte, 4096)} {
		want := sha256.Sum256(input)
		assert.Equal(t, want, hash.Hash(input))
	}
}

func TestHashIsReentrant(t *testing.T) {
	want := hash.Hash([]byte("stable"))
	done := make(chan [32]byte, 64)
	for i := 0; i < 64; i++ {
		go func() {
			done <- hash.Hash([]byte("stable"))
		}()
	}
	for i := 0; i < 64; i++ {
		require.Equal(t, want, <-done)
	}
}
