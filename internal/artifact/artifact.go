// Package artifact wires together the manifest, commit, upload, and
// control-plane client packages into the single end-to-end operation
// spec.md §4.11 describes: register a commit, persist its manifest and
// migration records to local artifact storage, enqueue every changed
// file for upload, and mark the commit COMMITTED on the control plane
// once every upload it enqueued has succeeded.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/datatorch/agent/internal/client"
	"github.com/datatorch/agent/internal/commit"
	"github.com/datatorch/agent/internal/config"
	"github.com/datatorch/agent/internal/logger"
	"github.com/datatorch/agent/internal/manifest"
	"github.com/datatorch/agent/internal/upload"
)

// Artifact identifies the owner/project/name triple a commit belongs to.
type Artifact struct {
	Owner   string
	Project string
	Name    string
}

func (a Artifact) id() string {
	return fmt.Sprintf("%s/%s/%s", a.Owner, a.Project, a.Name)
}

// Registrar is the control-plane surface a commit needs: register itself
// (and its migrations) to obtain upload redirect URLs, and confirm
// completion once every upload has succeeded.
type Registrar interface {
	RegisterCommit(ctx context.Context, commitID, fromCommitID string, createdHashes []string) (manifestURL, migrationURL string, fileURLs map[string]string, err error)
	MarkCommitted(ctx context.Context, commitID string) error
}

var _ Registrar = (*client.Client)(nil)

// Enqueuer is the upload subsystem's surface a commit needs.
type Enqueuer interface {
	Enqueue(job upload.Job)
}

var _ Enqueuer = (*upload.Pool)(nil)

// tracker counts a single commit's outstanding enqueued uploads.
type tracker struct {
	remaining int
	failed    bool
	done      chan struct{}
}

// Orchestrator drives spec.md §4.11's commit(message, tags) operation. It
// must be constructed once per agent process: it registers itself as the
// pool's OnDone callback, so only one Orchestrator may front a given
// upload.Pool.
type Orchestrator struct {
	registrar Registrar
	pool      Enqueuer
	paths     *config.AgentPaths
	log       logger.Logger

	mu      sync.Mutex
	pending map[string]*tracker
}

// onDoneRegistrar is implemented by *upload.Pool; New uses it to install
// its own completion callback without widening the Enqueuer interface.
type onDoneRegistrar interface {
	OnDone(func(upload.Job, error))
}

// New builds an Orchestrator over pool, registering its completion
// callback so enqueued uploads can be tracked back to their commit.
func New(registrar Registrar, pool *upload.Pool, paths *config.AgentPaths, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NopLogger()
	}
	o := &Orchestrator{registrar: registrar, pool: pool, paths: paths, log: log, pending: map[string]*tracker{}}
	var d onDoneRegistrar = pool
	d.OnDone(o.handleDone)
	return o
}

// Commit seals c, registers it on the control plane, persists its
// manifest and migration records to local artifact storage, and enqueues
// every upload the commit needs. It returns once uploads are enqueued; it
// does not wait for them to finish (use Wait for that). If c has no
// changes relative to its parent, Commit returns immediately with no
// server side effects, per spec.md §4.11 step 3.
func (o *Orchestrator) Commit(ctx context.Context, art Artifact, c *commit.Commit, message string, tags []string) error {
	migrations, err := c.Seal(message)
	if err != nil {
		return fmt.Errorf("artifact: seal commit: %w", err)
	}

	created, deleted := migrations.ToSets()
	if len(created) == 0 && len(deleted) == 0 {
		return nil
	}

	createdHashes := make([]string, 0, len(created))
	for h := range created {
		createdHashes = append(createdHashes, h)
	}

	manifestURL, migrationURL, fileURLs, err := o.registrar.RegisterCommit(ctx, c.ID(), migrations.FromCommitID, createdHashes)
	if err != nil {
		return fmt.Errorf("artifact: register commit %s: %w", c.ShortID(), err)
	}

	dir := o.paths.CommitDir(c.ID())
	manifestPath := filepath.Join(dir, "manifest")
	migrationPath := filepath.Join(dir, "migration")

	manifestData, err := manifest.Serialize(c.Manifest())
	if err != nil {
		return fmt.Errorf("artifact: serialize manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, manifestData, 0o644); err != nil {
		return fmt.Errorf("artifact: write manifest: %w", err)
	}

	migrationData, err := commit.SerializeMigrations(migrations)
	if err != nil {
		return fmt.Errorf("artifact: serialize migrations: %w", err)
	}
	if err := os.WriteFile(migrationPath, migrationData, 0o644); err != nil {
		return fmt.Errorf("artifact: write migration record: %w", err)
	}

	jobs := make([]upload.Job, 0, len(fileURLs)+2)
	jobs = append(jobs,
		upload.Job{Kind: upload.CommitManifest, CommitID: c.ID(), Path: manifestPath, RedirectURL: manifestURL},
		upload.Job{Kind: upload.CommitMigration, CommitID: c.ID(), Path: migrationPath, RedirectURL: migrationURL},
	)
	for hash, url := range fileURLs {
		localPath, ok := c.LocalPathForHash(hash)
		if !ok {
			o.log.Warnf("artifact: no local file recorded for created hash %s, skipping upload", hash)
			continue
		}
		jobs = append(jobs, upload.Job{
			Kind:        upload.ArtifactFile,
			CommitID:    c.ID(),
			ArtifactID:  art.id(),
			Hash:        hash,
			Path:        localPath,
			RedirectURL: url,
		})
	}
	// DELETED hashes are never removed server-side; other commits may
	// still reference the same content, per spec.md §4.11 step 6.
	_ = deleted

	o.track(c.ID(), len(jobs))
	for _, j := range jobs {
		o.pool.Enqueue(j)
	}
	return nil
}

func (o *Orchestrator) track(commitID string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[commitID] = &tracker{remaining: count, done: make(chan struct{})}
}

// handleDone is the upload pool's OnDone callback: it attributes each
// finished job back to its commit and, once every job the commit
// enqueued has finished, marks the commit COMMITTED provided none failed.
func (o *Orchestrator) handleDone(job upload.Job, err error) {
	o.mu.Lock()
	t, ok := o.pending[job.CommitID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if err != nil {
		t.failed = true
	}
	t.remaining--
	finished := t.remaining == 0
	o.mu.Unlock()

	if !finished {
		return
	}
	defer func() {
		o.mu.Lock()
		delete(o.pending, job.CommitID)
		o.mu.Unlock()
		close(t.done)
	}()
	if t.failed {
		o.log.Errorf("commit %s: one or more uploads failed, leaving commit UPLOADING for a future retry", job.CommitID)
		return
	}
	if err := o.registrar.MarkCommitted(context.Background(), job.CommitID); err != nil {
		o.log.Errorf("commit %s: mark committed: %v", job.CommitID, err)
	}
}

// Wait blocks until every upload enqueued for commitID has completed and,
// when all of them succeeded, the commit has been reported COMMITTED, or
// until ctx is done. It returns immediately if commitID has no tracked uploads
// (either because the commit had no changes, or because it already
// finished).
func (o *Orchestrator) Wait(ctx context.Context, commitID string) error {
	o.mu.Lock()
	t, ok := o.pending[commitID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
