// Package catalog resolves action identifiers to local directories,
// fetching missing versions from their git source with a depth-1 clone.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/datatorch/agent/internal/actionspec"
	"github.com/datatorch/agent/internal/config"
	"github.com/datatorch/agent/internal/logger"
)

// FetchError wraps a non-zero clone outcome.
type FetchError struct {
	Identifier actionspec.Identifier
	Cause      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch action %s: %v", e.Identifier.FullName(), e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// ManifestNotFoundError indicates the fetched directory has no manifest
// file at the identifier's expected path.
type ManifestNotFoundError struct {
	Path string
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("action manifest not found: %s", e.Path)
}

// Catalog resolves action identifiers to local clone directories.
type Catalog struct {
	paths *config.AgentPaths
	log   logger.Logger

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

// New builds a Catalog rooted at paths.ActionsDir().
func New(paths *config.AgentPaths, log logger.Logger) *Catalog {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Catalog{paths: paths, log: log, inFlight: map[string]*sync.Mutex{}}
}

// Resolve returns the local directory for id, fetching it if absent or
// if the version is the "latest" sentinel (which always forces a
// re-fetch). Concurrent calls for the same (name, version) key block on
// each other rather than racing on the same directory.
func (c *Catalog) Resolve(ctx context.Context, id actionspec.Identifier) (string, error) {
	key := id.Name + "@" + id.Version
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	dir := c.paths.ActionDir(id.Name, id.Version)

	if id.Version != actionspec.LatestVersion {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if _, err := os.Stat(manifestPath(dir, id)); err == nil {
				return dir, nil
			}
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", &FetchError{Identifier: id, Cause: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &FetchError{Identifier: id, Cause: err}
	}

	c.log.Infof("fetching action %s from %s", id.FullName(), id.Git)

	cloneOpts := &git.CloneOptions{
		URL:          normalizeURL(id.Git),
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if id.Version != actionspec.LatestVersion {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(id.Version)
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, cloneOpts); err != nil {
		_ = os.RemoveAll(dir)
		return "", &FetchError{Identifier: id, Cause: err}
	}

	if _, err := os.Stat(manifestPath(dir, id)); err != nil {
		return "", &ManifestNotFoundError{Path: manifestPath(dir, id)}
	}

	return dir, nil
}

func manifestPath(dir string, id actionspec.Identifier) string {
	file := id.File
	if file == "" {
		file = actionspec.DefaultManifestFile
	}
	return dir + string(os.PathSeparator) + file
}

// normalizeURL rewrites the source's "git://" scheme to one go-git's
// transport registry understands over plain HTTPS, since the bare git
// protocol is routinely blocked by modern hosting providers and egress
// policies.
func normalizeURL(url string) string {
	if strings.HasPrefix(url, "git://") {
		return "https://" + strings.TrimPrefix(url, "git://")
	}
	return url
}

func (c *Catalog) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.inFlight[key]
	if !ok {
		l = &sync.Mutex{}
		c.inFlight[key] = l
	}
	return l
}
