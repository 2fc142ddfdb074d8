package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path    string
		allowed []string
		want    bool
	}{
		{"a.txt", []string{".txt", ".md"}, true},
		{"a.TXT", []string{"txt"}, true},
		{"a.go", []string{".txt"}, false},
		{"noext", []string{".txt"}, false},
		{"anything.bin", nil, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchExtension(tt.path, tt.allowed), "MatchExtension(%q, %v)", tt.path, tt.allowed)
	}
}

func TestDirectorySource_List(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "bee")
	writeFile(t, filepath.Join(dir, "a.md"), "ay")
	writeFile(t, filepath.Join(dir, "skip.bin"), "x")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "sea")
	writeFile(t, filepath.Join(dir, "data", "ragindex.txt"), "internal")

	src := NewDirectorySource([]string{dir, dir}, WithExtensions([]string{".txt", "md"}), WithExclude(filepath.Join(dir, "data")))
	refs, err := src.List(context.Background())
	require.NoError(t, err)

	var paths []string
	for _, r := range refs {
		paths = append(paths, r.Path)
		assert.False(t, r.ModTime.IsZero())
		assert.Empty(t, r.ContentHash)
	}
	assert.Equal(t, []string{
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "sub", "c.txt"),
	}, paths)
	assert.Equal(t, int64(3), refs[1].Size)
}

func TestDirectorySource_NonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.txt"), "top")
	writeFile(t, filepath.Join(dir, "sub", "deep.txt"), "deep")

	src := NewDirectorySource([]string{dir}, WithRecursive(false))
	refs, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, filepath.Join(dir, "top.txt"), refs[0].Path)
}

func TestDirectorySource_MissingRootAndSetRoots(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "x.txt"), "x")

	src := NewDirectorySource([]string{filepath.Join(dir, "missing")})
	refs, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs)

	src.SetRoots([]string{dir})
	assert.Equal(t, []string{dir}, src.Roots())
	refs, err = src.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestDirectorySource_Read(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "r.txt")
	writeFile(t, p, "contents")
	src := NewDirectorySource([]string{dir})

	data, err := src.Read(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Read(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}
