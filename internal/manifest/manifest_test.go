package manifest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	m := New("commit-a", "")
	_ = m.Add("README.md", File{Size: 12, Hash: [16]byte{1}, LastModified: 1.0})
	_ = m.Add("src/main.go", File{Size: 34, Hash: [16]byte{2}, LastModified: 2.0})
	_ = m.Add("src/util/helpers.go", File{Size: 56, Hash: [16]byte{3}, LastModified: 3.0})
	return m
}

func TestAddCreatesParentDirs(t *testing.T) {
	m := sampleManifest()
	f, d, ok := m.Get("src/util/helpers.go")
	require.True(t, ok)
	require.Nil(t, d)
	require.NotNil(t, f)
	assert.Equal(t, int64(56), f.Size)
}

func TestAddConflictsWithExistingDir(t *testing.T) {
	m := sampleManifest()
	err := m.Add("src", File{Size: 1})
	assert.Error(t, err)
}

func TestRemoveDeletesSubtree(t *testing.T) {
	m := sampleManifest()
	m.Remove("src")
	_, _, ok := m.Get("src/main.go")
	assert.False(t, ok)
	_, _, ok = m.Get("README.md")
	assert.True(t, ok)
}

func TestFilesEnumeratesEveryLeaf(t *testing.T) {
	m := sampleManifest()
	entries := m.Files()
	assert.Len(t, entries, 3)
}

func TestSerializeRoundTrip(t *testing.T) {
	m := sampleManifest()
	data, err := Serialize(m)
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, m.CommitID, got.CommitID)
	assert.ElementsMatch(t, m.Files(), got.Files())
}

func TestDiffIdentityIsEmpty(t *testing.T) {
	m := sampleManifest()
	created, deleted := m.Diff(m)
	assert.Empty(t, created)
	assert.Empty(t, deleted)
}

func TestDiffDetectsCreatedAndDeleted(t *testing.T) {
	base := sampleManifest()
	next := New("commit-b", base.CommitID)
	_ = next.Add("README.md", File{Size: 12, Hash: [16]byte{1}, LastModified: 1.0})
	_ = next.Add("src/main.go", File{Size: 99, Hash: [16]byte{9}, LastModified: 9.0})

	created, deleted := next.Diff(base)
	assert.Contains(t, created, fmt.Sprintf("%x", [16]byte{9}))
	assert.Contains(t, deleted, fmt.Sprintf("%x", [16]byte{2}))
	assert.NotContains(t, created, fmt.Sprintf("%x", [16]byte{1}))
}

func TestDiffCreatedAndDeletedAreDisjoint(t *testing.T) {
	base := sampleManifest()
	next := New("commit-b", base.CommitID)
	_ = next.Add("README.md", File{Size: 12, Hash: [16]byte{1}, LastModified: 1.0})

	created, deleted := next.Diff(base)
	for h := range created {
		assert.NotContains(t, deleted, h)
	}
}
