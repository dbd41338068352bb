package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"splitbackup/internal/errors"
)

func collect(t *testing.T, w *Walker) ([]string, error) {
	t.Helper()
	var got []string
	err := w.Walk(context.Background(), func(it Item) error {
		if it.Content != nil {
			require.NoError(t, it.Content.Close())
		}
		got = append(got, fmt.Sprintf("%s %s %d", it.Entry.Kind, it.Entry.Path, it.Entry.Size))
		return nil
	})
	return got, err
}

func TestWalkOrder(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]string{
		"b/c.txt": "ccc",
		"a.txt":   "a",
		"b/a/z":   "zz",
		"c/":      "",
		"B":       "upper",
	})

	got, err := collect(t, NewWalker(root, zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"file B 5",
		"file a.txt 1",
		"dir b 0",
		"dir b/a 0",
		"file b/a/z 2",
		"file b/c.txt 3",
		"dir c 0",
	}, got)

	again, err := collect(t, NewWalker(root, nil))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestWalkEmptyRoot(t *testing.T) {
	got, err := collect(t, NewWalker(t.TempDir(), nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWalkSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]string{"dir/file": "x"})
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "link-dir")))
	require.NoError(t, os.Symlink(filepath.Join(root, "dir", "file"), filepath.Join(root, "link-file")))

	got, err := collect(t, NewWalker(root, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"dir dir 0", "file dir/file 1"}, got)
}

func TestWalkUnreadableRoot(t *testing.T) {
	_, err := collect(t, NewWalker(filepath.Join(t.TempDir(), "missing"), nil))
	assert.True(t, errors.Is(err, errors.ErrAccess), "%v", err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = collect(t, NewWalker(file, nil))
	assert.True(t, errors.Is(err, errors.ErrAccess), "%v", err)
}

func TestWalkUnreadableRootIgnoresSkipPolicy(t *testing.T) {
	root := t.TempDir()
	w := NewWalker(root, nil)
	w.Error = func(string, error) error { return nil }
	w.readDir = func(string) ([]os.DirEntry, error) { return nil, os.ErrPermission }

	_, err := collect(t, w)
	assert.True(t, errors.Is(err, errors.ErrAccess), "%v", err)
}

func brokenWalker(t *testing.T) *Walker {
	root := t.TempDir()
	createTree(t, root, map[string]string{
		"a.txt":        "a",
		"locked/x":     "x",
		"locked/y/z":   "z",
		"open/secret":  "s",
		"open/visible": "v",
	})
	w := NewWalker(root, zaptest.NewLogger(t))
	w.readDir = func(name string) ([]os.DirEntry, error) {
		if filepath.Base(name) == "locked" {
			return nil, os.ErrPermission
		}
		return os.ReadDir(name)
	}
	w.open = func(name string) (*os.File, error) {
		if filepath.Base(name) == "secret" {
			return nil, os.ErrPermission
		}
		return os.Open(name)
	}
	return w
}

func TestWalkFailPolicy(t *testing.T) {
	got, err := collect(t, brokenWalker(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAccess), "%v", err)
	assert.True(t, errors.Is(err, os.ErrPermission), "%v", err)
	assert.ErrorContains(t, err, "locked")
	assert.Equal(t, []string{"file a.txt 1"}, got)
}

func TestWalkSkipPolicy(t *testing.T) {
	w := brokenWalker(t)
	var skipped []string
	w.Error = func(path string, err error) error {
		assert.True(t, errors.Is(err, errors.ErrAccess))
		skipped = append(skipped, path)
		return nil
	}

	got, err := collect(t, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"file a.txt 1", "dir open 0", "file open/visible 1"}, got)
	assert.Equal(t, []string{"locked", "open/secret"}, skipped)
}

func TestWalkExclude(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]string{"keep/a": "a", "out/b": "b"})
	w := NewWalker(root, nil)
	w.Exclude = func(path string) bool { return path == filepath.Join(root, "out") }

	got, err := collect(t, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir keep 0", "file keep/a 1"}, got)
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]string{"a": "1", "b": "2"})
	boom := errors.New("boom")

	calls := 0
	err := NewWalker(root, nil).Walk(context.Background(), func(it Item) error {
		calls++
		_ = it.Content.Close()
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestWalkCanceled(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]string{"a": "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWalker(root, nil).Walk(ctx, func(Item) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
