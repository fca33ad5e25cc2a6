// Package upload runs a fixed-size worker pool that streams committed
// artifact content to object storage via the control plane's
// PUT-with-redirect upload endpoint, replacing the source's unfinished
// threading.Thread pool with goroutines over a buffered channel.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/datatorch/agent/internal/logger"
)

// maxWorkers caps the pool even on very large machines.
const maxWorkers = 16

// Kind names what an upload Job carries.
type Kind string

const (
	ArtifactFile    Kind = "artifact-file"
	CommitManifest  Kind = "commit-manifest"
	CommitMigration Kind = "commit-migration"
)

// Job is one file the pool must PUT to its redirect URL.
type Job struct {
	Kind       Kind
	CommitID   string
	ArtifactID string
	Hash       string
	Path       string
	RedirectURL string
}

// FileChangingError is a hard failure: the file being streamed shrank
// mid-upload, meaning its content no longer matches what was hashed.
type FileChangingError struct{ Path string }

func (e *FileChangingError) Error() string {
	return fmt.Sprintf("upload: %q changed size while streaming", e.Path)
}

// Progress reports cumulative bytes uploaded, for a supervisor to poll.
type Progress struct {
	BytesUploaded int64
	FilesDone     int64
	FilesFailed   int64
}

// Pool runs a fixed number of goroutines draining a FIFO job queue.
type Pool struct {
	client *resty.Client
	token  string
	log    logger.Logger

	jobs chan Job
	wg   sync.WaitGroup

	bytesUploaded int64
	filesDone     int64
	filesFailed   int64

	onDone func(Job, error)
}

// New builds a Pool with workerCount goroutines (defaulting to the
// logical CPU count, capped at maxWorkers).
func New(apiURL, agentToken string, workerCount int, log logger.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if workerCount > maxWorkers {
		workerCount = maxWorkers
	}
	if log == nil {
		log = logger.NopLogger()
	}

	client := resty.New().
		SetBaseURL(apiURL).
		SetRetryCount(10).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(isRetriableResponse)

	p := &Pool{
		client: client,
		token:  agentToken,
		log:    log,
		jobs:   make(chan Job, workerCount*4),
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// OnDone registers a callback invoked after each job finishes (success
// or hard failure), so a commit supervisor can track per-commit
// completion.
func (p *Pool) OnDone(f func(Job, error)) { p.onDone = f }

// Enqueue adds a job to the queue; it blocks if the queue is full.
func (p *Pool) Enqueue(job Job) { p.jobs <- job }

// Close stops accepting new jobs and waits for the queue to drain.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// Progress snapshots the pool's cumulative byte and file counters.
func (p *Pool) Progress() Progress {
	return Progress{
		BytesUploaded: atomic.LoadInt64(&p.bytesUploaded),
		FilesDone:     atomic.LoadInt64(&p.filesDone),
		FilesFailed:   atomic.LoadInt64(&p.filesFailed),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		err := p.upload(job)
		if err != nil {
			atomic.AddInt64(&p.filesFailed, 1)
			p.log.Errorf("upload worker %d: %s failed: %v", id, job.Path, err)
		} else {
			atomic.AddInt64(&p.filesDone, 1)
		}
		if p.onDone != nil {
			p.onDone(job, err)
		}
	}
}

func (p *Pool) upload(job Job) error {
	info, err := os.Stat(job.Path)
	if err != nil {
		return fmt.Errorf("upload: stat %q: %w", job.Path, err)
	}
	expectedSize := info.Size()

	f, err := os.Open(job.Path)
	if err != nil {
		return fmt.Errorf("upload: open %q: %w", job.Path, err)
	}
	defer f.Close()

	reader := &progressReader{
		r:        f,
		path:     job.Path,
		expected: expectedSize,
		onRead: func(n int64) {
			atomic.AddInt64(&p.bytesUploaded, n)
		},
	}

	resp, err := p.client.R().
		SetContext(context.Background()).
		SetHeader("datatorch-agent-token", p.token).
		SetHeader("x-ms-blob-type", "BlockBlob").
		SetBody(reader).
		SetContentLength(true).
		Put(job.RedirectURL)
	if err != nil {
		var fe *FileChangingError
		if errors.As(err, &fe) {
			return fe
		}
		return fmt.Errorf("upload: put %q: %w", job.Path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("upload: put %q: status %d", job.Path, resp.StatusCode())
	}
	return nil
}

// progressReader wraps a file reader, tracking bytes read and detecting
// a file that shrinks mid-stream (read returns EOF before expected is
// reached on a subsequent stat is out of scope here; the simpler and
// sufficient check is a short read against the size recorded at open).
type progressReader struct {
	r        io.Reader
	path     string
	expected int64
	read     int64
	onRead   func(int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.onRead(int64(n))
	}
	if err == io.EOF && p.read < p.expected {
		return n, &FileChangingError{Path: p.path}
	}
	return n, err
}

func isRetriableResponse(r *resty.Response, err error) bool {
	if err != nil {
		var changing *FileChangingError
		if errors.As(err, &changing) {
			return false
		}
		return true
	}
	switch r.StatusCode() {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return r.StatusCode() >= 500
}
