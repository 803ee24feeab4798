// Package fingerprint computes content digests used as the sole equality
// test between a source file and its replica.
package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/spf13/afero"
)

// ChunkSize is the number of bytes fed into the hash per read
const ChunkSize = 4096

// Algorithm names a supported digest
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"
)

// Hasher fingerprints files on a filesystem
type Hasher struct {
	fs      afero.Fs
	newHash func() hash.Hash
}

// New creates a Hasher reading from fs with the given algorithm
func New(fs afero.Fs, alg Algorithm) (*Hasher, error) {
	newHash, err := constructor(alg)
	if err != nil {
		return nil, err
	}
	return &Hasher{fs: fs, newHash: newHash}, nil
}

// Fingerprint returns the hex-encoded digest of the file at path
func (h *Hasher) Fingerprint(path string) (string, error) {
	f, err := h.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	sum, err := digest(f, h.newHash())
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return sum, nil
}

// Reader returns the hex-encoded digest of everything readable from r
func Reader(r io.Reader, alg Algorithm) (string, error) {
	newHash, err := constructor(alg)
	if err != nil {
		return "", err
	}
	return digest(r, newHash())
}

// digest feeds r into h one chunk at a time
func digest(r io.Reader, h hash.Hash) (string, error) {
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func constructor(alg Algorithm) (func() hash.Hash, error) {
	switch alg {
	case SHA256, "":
		return sha256.New, nil
	case MD5:
		return md5.New, nil
	default:
		return nil, fmt.Errorf("unsupported fingerprint algorithm: %s", alg)
	}
}
