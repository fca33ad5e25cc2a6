// Package manifest serializes a directory tree of hashed files to a
// self-describing binary record and computes diffs between two such
// trees. encoding/gob is used for the serialization: a gob stream
// carries the encoded type's field layout inline, so a reader can fully
// decode a manifest without any external schema, the same property the
// source gets from embedding an Avro schema in its manifest files.
package manifest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"path"
	"sort"
	"strings"
)

// File is one hashed, stat-sized file entry.
type File struct {
	Size         int64
	Hash         [16]byte
	LastModified float64
}

// Directory is a node in the manifest tree: files and subdirectories
// keyed by name. A name appears at most once per directory across both
// maps.
type Directory struct {
	Files map[string]File
	Dirs  map[string]Directory
}

func newDirectory() Directory {
	return Directory{Files: map[string]File{}, Dirs: map[string]Directory{}}
}

// Manifest is a single commit's directory tree.
type Manifest struct {
	CommitID         string
	PreviousCommitID string
	Branch           string
	Root             Directory
}

// New creates an empty manifest for commitID, optionally chained from a
// previous commit.
func New(commitID, previousCommitID string) *Manifest {
	branch := "main"
	return &Manifest{CommitID: commitID, PreviousCommitID: previousCommitID, Branch: branch, Root: newDirectory()}
}

// ConflictError is returned when add() finds an existing entry of the
// other kind (file vs. directory) at a path.
type ConflictError struct{ Path string }

func (e *ConflictError) Error() string {
	return fmt.Sprintf("manifest: %q already exists as a different entry type", e.Path)
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean(filepathToSlash(p)), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Add inserts file at the normalized forward-slash path, creating
// missing parent directories.
func (m *Manifest) Add(p string, file File) error {
	parts := splitPath(p)
	if len(parts) == 0 {
		return fmt.Errorf("manifest: add: empty path")
	}
	parent := m.makeDirs(parts[:len(parts)-1])
	name := parts[len(parts)-1]
	if _, isDir := parent.Dirs[name]; isDir {
		return &ConflictError{Path: p}
	}
	parent.Files[name] = file
	return nil
}

// AddDir inserts an already-built subtree at the normalized path.
func (m *Manifest) AddDir(p string, dir Directory) error {
	parts := splitPath(p)
	if len(parts) == 0 {
		m.Root = dir
		return nil
	}
	parent := m.makeDirs(parts[:len(parts)-1])
	name := parts[len(parts)-1]
	if _, isFile := parent.Files[name]; isFile {
		return &ConflictError{Path: p}
	}
	parent.Dirs[name] = dir
	return nil
}

// makeDirs walks/creates the directory chain named by parts, mutating
// the tree in place (maps are reference types, so mutations through the
// returned Directory value are visible from the parent).
func (m *Manifest) makeDirs(parts []string) Directory {
	cur := m.Root
	for _, name := range parts {
		next, ok := cur.Dirs[name]
		if !ok {
			next = newDirectory()
			cur.Dirs[name] = next
		}
		cur = next
	}
	return cur
}

// Remove deletes either a file or a whole subtree by name.
func (m *Manifest) Remove(p string) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return
	}
	parent := m.getDir(parts[:len(parts)-1])
	if parent == nil {
		return
	}
	name := parts[len(parts)-1]
	delete(parent.Files, name)
	delete(parent.Dirs, name)
}

func (m *Manifest) getDir(parts []string) *Directory {
	cur := m.Root
	for _, name := range parts {
		next, ok := cur.Dirs[name]
		if !ok {
			return nil
		}
		cur = next
	}
	return &cur
}

// Get returns the file or directory entry at p, or (nil, nil, false) if
// absent.
func (m *Manifest) Get(p string) (*File, *Directory, bool) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, &m.Root, true
	}
	parent := m.getDir(parts[:len(parts)-1])
	if parent == nil {
		return nil, nil, false
	}
	name := parts[len(parts)-1]
	if f, ok := parent.Files[name]; ok {
		return &f, nil, true
	}
	if d, ok := parent.Dirs[name]; ok {
		return nil, &d, true
	}
	return nil, nil, false
}

// FileEntry pairs a joined slash-path with its File record, as yielded
// by Files.
type FileEntry struct {
	Path string
	File File
}

// Files enumerates every file in the tree, starting at the root, in a
// stable order: within each directory, subdirectories come before files,
// each sorted by name. It returns the complete list at once rather than
// yielding entries lazily.
func (m *Manifest) Files() []FileEntry {
	var out []FileEntry
	walk(m.Root, "", &out)
	return out
}

func walk(d Directory, prefix string, out *[]FileEntry) {
	dirNames := make([]string, 0, len(d.Dirs))
	for name := range d.Dirs {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	for _, name := range dirNames {
		walk(d.Dirs[name], path.Join(prefix, name), out)
	}
	fileNames := make([]string, 0, len(d.Files))
	for name := range d.Files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)
	for _, name := range fileNames {
		*out = append(*out, FileEntry{Path: path.Join(prefix, name), File: d.Files[name]})
	}
}

// Diff returns the sets of hex-encoded hashes created and deleted
// between m and other: created = m \ other, deleted = other \ m.
// Identity is by hash, not by path.
func (m *Manifest) Diff(other *Manifest) (created, deleted map[string]struct{}) {
	mine := hashSet(m)
	theirs := hashSet(other)

	created = map[string]struct{}{}
	deleted = map[string]struct{}{}
	for h := range mine {
		if _, ok := theirs[h]; !ok {
			created[h] = struct{}{}
		}
	}
	for h := range theirs {
		if _, ok := mine[h]; !ok {
			deleted[h] = struct{}{}
		}
	}
	return created, deleted
}

func hashSet(m *Manifest) map[string]struct{} {
	set := map[string]struct{}{}
	if m == nil {
		return set
	}
	for _, f := range m.Files() {
		set[fmt.Sprintf("%x", f.File.Hash)] = struct{}{}
	}
	return set
}

// Serialize encodes m with encoding/gob.
func Serialize(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a manifest previously written by Serialize.
func Deserialize(data []byte) (*Manifest, error) {
	var m Manifest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("deserialize manifest: %w", err)
	}
	return &m, nil
}
