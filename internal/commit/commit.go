// Package commit builds an artifact commit incrementally against a
// parent manifest: files are added or removed locally, each add only
// rehashing content whose size or modification time actually changed,
// and the accumulated migrations (created/deleted content hashes) are
// what the upload subsystem actually ships.
package commit

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/datatorch/agent/internal/manifest"
)

// Status is the commit's lifecycle stage. Only INITIALIZED commits are
// mutable; once migrations are computed and the commit advances to
// UPLOADING it is sealed.
type Status int

const (
	Initialized Status = iota
	Uploading
	Committed
)

// LockedError is returned by every mutating method once the commit has
// left the Initialized status.
type LockedError struct{ CommitID string }

func (e *LockedError) Error() string {
	return fmt.Sprintf("commit %s is locked and can no longer be modified", e.CommitID)
}

// MigrationAction names what happened to a content hash between a
// commit and its parent.
type MigrationAction string

const (
	Created MigrationAction = "CREATED"
	Deleted MigrationAction = "DELETED"
)

// Migrations is the set of content-hash changes between a commit and its
// parent, the record the upload subsystem ships to the control plane.
type Migrations struct {
	CommitID     string
	FromCommitID string
	CreatedAt    time.Time
	Entries      map[string]MigrationAction
}

// ToSets splits Entries back into created/deleted hash sets.
func (m Migrations) ToSets() (created, deleted map[string]struct{}) {
	created = map[string]struct{}{}
	deleted = map[string]struct{}{}
	for hash, action := range m.Entries {
		switch action {
		case Created:
			created[hash] = struct{}{}
		case Deleted:
			deleted[hash] = struct{}{}
		}
	}
	return created, deleted
}

// Hasher computes a file's content hash; Commit depends on the interface
// so tests can swap in a faster stub than the real 128 KiB-chunk MD5
// reader.
type Hasher interface {
	HashFile(path string) ([16]byte, error)
}

// Commit is a single artifact commit under construction.
type Commit struct {
	id             string
	previousID     string
	message        string
	status         Status
	manifest       *manifest.Manifest
	parentManifest *manifest.Manifest
	hasher         Hasher
	hashedFiles    map[[16]byte]string
}

// New starts a fresh commit chained from previousID (empty for the first
// commit of a branch).
func New(previousID string, parent *manifest.Manifest, hasher Hasher) *Commit {
	if hasher == nil {
		hasher = MD5Hasher{}
	}
	id := uuid.NewString()
	return &Commit{
		id:             id,
		previousID:     previousID,
		status:         Initialized,
		manifest:       manifest.New(id, previousID),
		parentManifest: parent,
		hasher:         hasher,
		hashedFiles:    map[[16]byte]string{},
	}
}

// ID is the commit's identifier.
func (c *Commit) ID() string { return c.id }

// ShortID is the first 8 characters of ID, used for concise logging.
func (c *Commit) ShortID() string {
	if len(c.id) <= 8 {
		return c.id
	}
	return c.id[:8]
}

func (c *Commit) ensureModifiable() error {
	if c.status != Initialized {
		return &LockedError{CommitID: c.id}
	}
	return nil
}

// AddFile hashes localPath (unless its size and mtime already match the
// manifest entry at artifactPath) and records it in the manifest.
func (c *Commit) AddFile(localPath, artifactPath string) (bool, error) {
	if err := c.ensureModifiable(); err != nil {
		return false, err
	}
	if artifactPath == "" {
		artifactPath = filepath.Base(localPath)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return false, fmt.Errorf("commit: add file: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("commit: add file: %q is a directory", localPath)
	}

	mtime := float64(info.ModTime().UnixNano()) / 1e9
	if existing, _, ok := c.manifest.Get(artifactPath); ok && existing != nil {
		if existing.Size == info.Size() && existing.LastModified == mtime {
			return false, nil
		}
	}

	hash, err := c.hasher.HashFile(localPath)
	if err != nil {
		return false, fmt.Errorf("commit: hash %q: %w", localPath, err)
	}
	c.hashedFiles[hash] = localPath

	if err := c.manifest.Add(artifactPath, manifest.File{
		Size:         info.Size(),
		Hash:         hash,
		LastModified: mtime,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// AddDir recursively adds every regular file under localDir, mirroring
// its relative paths under artifactPath.
func (c *Commit) AddDir(localDir, artifactPath string) error {
	if err := c.ensureModifiable(); err != nil {
		return err
	}
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		ap := path.Join(artifactPath, filepath.ToSlash(rel))
		_, err = c.AddFile(p, ap)
		return err
	})
}

// Add adds localPath, dispatching to AddFile or AddDir depending on
// whether it names a file or a directory. If localPath does not exist
// literally, it is treated as a doublestar glob pattern rooted at ".",
// per spec.md §4.11, and every match is added under artifactPath by its
// relative name.
func (c *Commit) Add(localPath, artifactPath string) error {
	if err := c.ensureModifiable(); err != nil {
		return err
	}
	info, err := os.Stat(localPath)
	if err == nil {
		if info.IsDir() {
			return c.AddDir(localPath, artifactPath)
		}
		_, err = c.AddFile(localPath, artifactPath)
		return err
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("commit: add: %w", err)
	}
	return c.addGlob(localPath, artifactPath)
}

// addGlob expands pattern as a doublestar glob under the current
// directory and adds every matched regular file, mirroring its relative
// path under artifactPath. Matched directories are added recursively.
func (c *Commit) addGlob(pattern, artifactPath string) error {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("commit: add: invalid glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("commit: add: %q matched no files", pattern)
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return fmt.Errorf("commit: add: %w", err)
		}
		ap := path.Join(artifactPath, filepath.ToSlash(m))
		if info.IsDir() {
			if err := c.AddDir(m, ap); err != nil {
				return err
			}
			continue
		}
		if _, err := c.AddFile(m, ap); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes artifactPath (file or subtree) from the manifest.
func (c *Commit) Remove(artifactPath string) error {
	if err := c.ensureModifiable(); err != nil {
		return err
	}
	c.manifest.Remove(artifactPath)
	return nil
}

// Migrations computes the created/deleted content hashes against the
// parent manifest (empty diff if there is no parent).
func (c *Commit) Migrations() Migrations {
	created, deleted := c.manifest.Diff(c.parentManifest)
	entries := make(map[string]MigrationAction, len(created)+len(deleted))
	for h := range created {
		entries[h] = Created
	}
	for h := range deleted {
		entries[h] = Deleted
	}
	return Migrations{
		CommitID:     c.id,
		FromCommitID: c.previousID,
		Entries:      entries,
	}
}

// Seal computes migrations, advances the commit past Initialized, and
// returns the migrations for the upload subsystem to enqueue. A commit
// whose migrations are empty still seals: an empty commit is valid, it
// simply uploads nothing.
func (c *Commit) Seal(message string) (Migrations, error) {
	if err := c.ensureModifiable(); err != nil {
		return Migrations{}, err
	}
	c.message = message
	migrations := c.Migrations()
	migrations.CreatedAt = timeNow()
	c.status = Uploading
	return migrations, nil
}

// MarkCommitted transitions a sealed commit to Committed once the
// control plane has acknowledged the upload.
func (c *Commit) MarkCommitted() error {
	if c.status != Uploading {
		return fmt.Errorf("commit %s must be uploading before it can be committed, got status %d", c.id, c.status)
	}
	c.status = Committed
	return nil
}

// Status reports the commit's current lifecycle stage.
func (c *Commit) Status() Status { return c.status }

// Manifest exposes the commit's in-progress manifest.
func (c *Commit) Manifest() *manifest.Manifest { return c.manifest }

// HashedFiles maps each distinct content hash recorded this commit back
// to the local path it was read from, for the upload subsystem.
func (c *Commit) HashedFiles() map[[16]byte]string {
	out := make(map[[16]byte]string, len(c.hashedFiles))
	for h, p := range c.hashedFiles {
		out[h] = p
	}
	return out
}

// timeNow is a seam so tests can avoid depending on wall-clock time.
var timeNow = func() time.Time { return time.Now().UTC() }

// LocalPathForHash returns the local file this commit hashed to produce
// hexHash, so the upload subsystem can enqueue it without re-walking the
// manifest. hexHash must be the lowercase hex encoding of a File.Hash.
func (c *Commit) LocalPathForHash(hexHash string) (string, bool) {
	raw, err := hex.DecodeString(hexHash)
	if err != nil || len(raw) != 16 {
		return "", false
	}
	var key [16]byte
	copy(key[:], raw)
	p, ok := c.hashedFiles[key]
	return p, ok
}
