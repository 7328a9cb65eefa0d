package scan

import (
	"crypto/md5" // #nosec G501 -- accidental-duplicate detection only
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Supported digest algorithms. The name is stored with every checksum and
// used as the report column header.
const (
	AlgoMD5    = "md5"
	AlgoSHA256 = "sha256"
	AlgoXXH64  = "xxh64"
)

// DefaultAlgorithm is a 128-bit digest, fast and collision-resistant enough
// for accidental duplicates.
const DefaultAlgorithm = AlgoMD5

// chunkSize bounds the memory used per hashing worker.
const chunkSize = 32 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

// NormalizeAlgorithm validates name and returns its canonical form.
func NormalizeAlgorithm(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AlgoMD5:
		return AlgoMD5, nil
	case AlgoSHA256, "sha-256":
		return AlgoSHA256, nil
	case AlgoXXH64, "xxhash":
		return AlgoXXH64, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", name)
	}
}

func newDigest(algo string) (hash.Hash, error) {
	switch algo {
	case AlgoMD5:
		return md5.New(), nil // #nosec G401
	case AlgoSHA256:
		return sha256.New(), nil
	case AlgoXXH64:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}
