package commit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestAddFileHashesAndRecords(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "a.txt", "hello")

	c := New("", nil, MD5Hasher{})
	changed, err := c.AddFile(p, "a.txt")
	require.NoError(t, err)
	assert.True(t, changed)

	f, _, ok := c.Manifest().Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(5), f.Size)
}

func TestAddFileSkipsUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "a.txt", "hello")

	c := New("", nil, MD5Hasher{})
	_, err := c.AddFile(p, "a.txt")
	require.NoError(t, err)

	changed, err := c.AddFile(p, "a.txt")
	require.NoError(t, err)
	assert.False(t, changed, "re-adding an untouched file must not rehash it")
}

func TestAddDirMirrorsRelativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	writeTempFile(t, dir, "top.txt", "x")
	writeTempFile(t, filepath.Join(dir, "sub"), "nested.txt", "y")

	c := New("", nil, MD5Hasher{})
	require.NoError(t, c.AddDir(dir, "project"))

	_, _, ok := c.Manifest().Get("project/top.txt")
	assert.True(t, ok)
	_, _, ok = c.Manifest().Get("project/sub/nested.txt")
	assert.True(t, ok)
}

func TestEnsureModifiableRejectsAfterSeal(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "a.txt", "hello")

	c := New("", nil, MD5Hasher{})
	_, err := c.AddFile(p, "a.txt")
	require.NoError(t, err)

	_, err = c.Seal("first commit")
	require.NoError(t, err)

	_, err = c.AddFile(p, "b.txt")
	assert.ErrorAs(t, err, new(*LockedError))
}

func TestMigrationsReflectDiffAgainstParent(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "a.txt", "hello")

	parent := New("", nil, MD5Hasher{})
	_, err := parent.AddFile(p, "a.txt")
	require.NoError(t, err)

	q := writeTempFile(t, dir, "b.txt", "world")
	child := New(parent.ID(), parent.Manifest(), MD5Hasher{})
	_, err = child.AddFile(q, "b.txt")
	require.NoError(t, err)
	require.NoError(t, child.Remove("a.txt"))

	migrations := child.Migrations()
	created, deleted := migrations.ToSets()
	assert.Len(t, created, 1)
	assert.Len(t, deleted, 1)
}

func TestSealOnUnchangedCommitHasEmptyMigrations(t *testing.T) {
	c := New("parent-id", nil, MD5Hasher{})
	migrations, err := c.Seal("")
	require.NoError(t, err)
	created, deleted := migrations.ToSets()
	assert.Empty(t, created)
	assert.Empty(t, deleted)
}

func TestAddGlobExpandsPatternAndAddsMatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	writeTempFile(t, dir, "a.txt", "hello")
	writeTempFile(t, dir, "b.txt", "world")
	writeTempFile(t, filepath.Join(dir, "sub"), "c.log", "ignored")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	c := New("", nil, MD5Hasher{})
	require.NoError(t, c.Add("*.txt", "artifacts"))

	_, _, ok := c.Manifest().Get(filepath.ToSlash(filepath.Join("artifacts", "a.txt")))
	assert.True(t, ok)
	_, _, ok = c.Manifest().Get(filepath.ToSlash(filepath.Join("artifacts", "b.txt")))
	assert.True(t, ok)
	_, _, ok = c.Manifest().Get(filepath.ToSlash(filepath.Join("artifacts", "sub", "c.log")))
	assert.False(t, ok, "glob of *.txt must not match files under sub/")
}

func TestAddGlobErrorsWhenNoMatches(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	c := New("", nil, MD5Hasher{})
	err = c.Add("*.missing", "artifacts")
	assert.Error(t, err)
}

func TestHashFileIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "a.txt", "hello world")

	h := MD5Hasher{}
	first, err := h.HashFile(p)
	require.NoError(t, err)
	second, err := h.HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
