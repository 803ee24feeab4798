package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_MatchesWholeFileHash(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	// sizes around the chunk boundary
	for _, size := range []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 17} {
		data := make([]byte, size)
		rng.Read(data)

		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/f", data, 0644))

		shaHasher, err := New(fs, SHA256)
		require.NoError(t, err)
		got, err := shaHasher.Fingerprint("/f")
		require.NoError(t, err)
		want := sha256.Sum256(data)
		assert.Equal(t, hex.EncodeToString(want[:]), got, "sha256 size=%d", size)

		md5Hasher, err := New(fs, MD5)
		require.NoError(t, err)
		got, err = md5Hasher.Fingerprint("/f")
		require.NoError(t, err)
		wantMD5 := md5.Sum(data)
		assert.Equal(t, hex.EncodeToString(wantMD5[:]), got, "md5 size=%d", size)
	}
}

func TestFingerprint_EqualContentEqualDigest(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	c := filepath.Join(dir, "c.txt")
	require.NoError(t, os.WriteFile(a, []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("hello"), 0600))
	require.NoError(t, os.WriteFile(c, []byte("world"), 0644))

	h, err := New(afero.NewOsFs(), SHA256)
	require.NoError(t, err)

	fa, err := h.Fingerprint(a)
	require.NoError(t, err)
	fb, err := h.Fingerprint(b)
	require.NoError(t, err)
	fc, err := h.Fingerprint(c)
	require.NoError(t, err)

	assert.Equal(t, fa, fb, "same bytes, different mode")
	assert.NotEqual(t, fa, fc)
}

func TestFingerprint_MissingFile(t *testing.T) {
	h, err := New(afero.NewMemMapFs(), SHA256)
	require.NoError(t, err)

	_, err = h.Fingerprint("/does/not/exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestReader(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 1000)

	// one byte per Read still produces the same digest
	got, err := Reader(iotest.OneByteReader(bytes.NewReader(data)), SHA256)
	require.NoError(t, err)
	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(bytes.NewReader([]byte("partial")), iotest.ErrReader(boom))

	_, err := Reader(r, SHA256)
	assert.ErrorIs(t, err, boom)
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), Algorithm("crc32"))
	assert.Error(t, err)
}
