// Package checksum provides the content digests used to verify copies.
package checksum

import (
	"bytes"
	"crypto/md5" //nolint:gosec // offered for interop with existing manifests
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	BLAKE3 Algorithm = "blake3"
	XXHash Algorithm = "xxhash"
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"

	Default = BLAKE3
)

// Algorithms lists every supported algorithm in display order.
var Algorithms = []Algorithm{BLAKE3, XXHash, SHA256, MD5}

// ParseAlgorithm resolves a case-insensitive algorithm name. An empty name
// selects Default.
func ParseAlgorithm(name string) (Algorithm, error) {
	if name == "" {
		return Default, nil
	}
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Algorithms {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown checksum algorithm %q (want one of %s)", name, strings.Join(names(), ", "))
}

func (a Algorithm) String() string { return string(a) }

// New returns a fresh streaming hash for a.
func New(a Algorithm) (hash.Hash, error) {
	switch a {
	case BLAKE3:
		return blake3.New(), nil
	case XXHash:
		return xxhash.New(), nil
	case SHA256:
		return sha256.New(), nil
	case MD5:
		return md5.New(), nil //nolint:gosec
	default:
		return nil, fmt.Errorf("unknown checksum algorithm %q", string(a))
	}
}

// Digest is a finished checksum. A nil Digest means "not computed".
type Digest []byte

// String returns the lowercase hex encoding of d.
func (d Digest) String() string { return hex.EncodeToString(d) }

// Equal reports whether d and o hold the same bytes.
func (d Digest) Equal(o Digest) bool { return bytes.Equal(d, o) }

// IsZero reports whether the digest was never computed.
func (d Digest) IsZero() bool { return len(d) == 0 }

var copyBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 256*1024)
		return &buf
	},
}

// HashReader consumes r and returns its digest.
func HashReader(r io.Reader, a Algorithm) (Digest, error) {
	h, err := New(a)
	if err != nil {
		return nil, err
	}

	bp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bp)

	if _, err := io.CopyBuffer(h, r, *bp); err != nil {
		return nil, err
	}
	return Digest(h.Sum(nil)), nil
}

// HashFile computes the digest of the file at path on fs.
func HashFile(fs afero.Fs, path string, a Algorithm) (Digest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d, err := HashReader(f, a)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

func names() []string {
	out := make([]string, len(Algorithms))
	for i, a := range Algorithms {
		out[i] = string(a)
	}
	return out
}
