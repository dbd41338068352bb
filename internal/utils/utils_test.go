package utils

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

func TestLocalPath(t *testing.T) {
	got, err := LocalPath(models.Path{"a", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("a", "b.txt"), got)

	escapes := []models.Path{
		{".."},
		{"a", "..", "..", "etc"},
		{"", "etc", "passwd"},
		{"a/../../b"},
	}
	for _, p := range escapes {
		_, err := LocalPath(p)
		assert.True(t, errors.Is(err, errors.ErrPathEscape), "%q: %v", p, err)
	}

	corrupt := []models.Path{
		nil,
		{"a", ""},
		{"."},
		{"a", "b\x00c"},
	}
	for _, p := range corrupt {
		_, err := LocalPath(p)
		assert.True(t, errors.Is(err, errors.ErrCorruptFormat), "%q: %v", p, err)
	}
}

func TestIsWithin(t *testing.T) {
	root := t.TempDir()
	assert.True(t, IsWithin(root, root))
	assert.True(t, IsWithin(root, filepath.Join(root, "x", "y")))
	assert.False(t, IsWithin(root, filepath.Dir(root)))
	assert.False(t, IsWithin(root, root+"-sibling"))
	assert.True(t, IsWithin(root, filepath.Join(root, "..", filepath.Base(root), "z")))
}

func TestEnsureDirectoryExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDirectoryExists(dir))
	fi, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	assert.Error(t, EnsureDirectoryExists(""))
}

func TestHashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	fileHash, err := CalculateFileHash(path)
	require.NoError(t, err)
	sum := blake3.Sum256([]byte("content"))
	assert.Equal(t, hex.EncodeToString(sum[:]), fileHash)
	assert.Len(t, fileHash, 64)

	h := NewDigest()
	_, _ = h.Write([]byte("content"))
	assert.Len(t, h.Sum(nil), 32)
}
