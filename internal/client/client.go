// Package client is the agent's control-plane REST client. Where the
// source drives everything over a single GraphQL-over-websocket
// connection, this agent keeps the websocket purely for job dispatch
// (internal/transport) and moves every mutation — step/job state,
// commit registration, upload redirects — onto ordinary REST calls,
// satisfying the Reporter interfaces internal/step, internal/job, and
// internal/telemetry each declare independently.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/datatorch/agent/internal/job"
	"github.com/datatorch/agent/internal/step"
	"github.com/datatorch/agent/internal/telemetry"
)

// Client talks to the control plane's REST surface on behalf of the
// agent's job/step reporting, commit registration, and telemetry.
type Client struct {
	http    *resty.Client
	agentID string
}

// New builds a Client against apiURL, authenticating every request with
// the agent's bearer token header.
func New(apiURL, agentID, agentToken string) *Client {
	http := resty.New().
		SetBaseURL(apiURL).
		SetHeader("datatorch-agent-token", agentToken).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Client{http: http, agentID: agentID}
}

var _ step.Reporter = (*Client)(nil)
var _ job.Reporter = (*Client)(nil)
var _ telemetry.Reporter = (*Client)(nil)

// UpdateStep reports a step's status and its final inputs/outputs.
func (c *Client) UpdateStep(ctx context.Context, stepID, status string, inputs, outputs map[string]any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"status":  status,
			"inputs":  inputs,
			"outputs": outputs,
		}).
		Patch(fmt.Sprintf("/agent/step/%s", stepID))
	return checkResponse(resp, err, "update step")
}

// UploadStepLogs ships a batch of buffered step log lines.
func (c *Client) UploadStepLogs(ctx context.Context, stepID string, logs []step.LogLine) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"logs": logs}).
		Post(fmt.Sprintf("/agent/step/%s/logs", stepID))
	return checkResponse(resp, err, "upload step logs")
}

// UpdateJob reports a job's status.
func (c *Client) UpdateJob(ctx context.Context, jobID, status string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"status": status}).
		Patch(fmt.Sprintf("/agent/job/%s", jobID))
	return checkResponse(resp, err, "update job")
}

// ReportHostFacts sends the one-time host-facts record.
func (c *Client) ReportHostFacts(ctx context.Context, facts telemetry.HostFacts) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"agentId": c.agentID, "facts": facts}).
		Post("/agent/telemetry/facts")
	return checkResponse(resp, err, "report host facts")
}

// ReportSample sends one periodic telemetry sample.
func (c *Client) ReportSample(ctx context.Context, sample telemetry.Sample) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"agentId": c.agentID, "sample": sample}).
		Post("/agent/telemetry/sample")
	return checkResponse(resp, err, "report telemetry sample")
}

// RedirectTarget is the upload redirect the control plane returns for a
// file/manifest/migration PUT.
type RedirectTarget struct {
	URL string `json:"url"`
}

// RegisterCommit registers a new commit and its migrations, returning
// upload redirect URLs for the manifest, the migration record, and each
// newly-created content hash.
func (c *Client) RegisterCommit(ctx context.Context, commitID, fromCommitID string, createdHashes []string) (manifestURL, migrationURL string, fileURLs map[string]string, err error) {
	var out struct {
		ManifestUpload  RedirectTarget            `json:"manifestUpload"`
		MigrationUpload RedirectTarget            `json:"migrationUpload"`
		FileUploads     map[string]RedirectTarget `json:"fileUploads"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"commitId":     commitID,
			"fromCommitId": fromCommitID,
			"created":      createdHashes,
		}).
		SetResult(&out).
		Post("/agent/artifacts/commit")
	if err := checkResponse(resp, err, "register commit"); err != nil {
		return "", "", nil, err
	}

	fileURLs = make(map[string]string, len(out.FileUploads))
	for hash, target := range out.FileUploads {
		fileURLs[hash] = target.URL
	}
	return out.ManifestUpload.URL, out.MigrationUpload.URL, fileURLs, nil
}

// MarkCommitted reports that every enqueued upload for commitID
// succeeded and the commit may transition to COMMITTED.
func (c *Client) MarkCommitted(ctx context.Context, commitID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"status": "COMMITTED"}).
		Patch(fmt.Sprintf("/agent/artifacts/commit/%s", commitID))
	return checkResponse(resp, err, "mark commit committed")
}

func checkResponse(resp *resty.Response, err error, action string) error {
	if err != nil {
		return fmt.Errorf("client: %s: %w", action, err)
	}
	if resp.IsError() {
		return fmt.Errorf("client: %s: status %d", action, resp.StatusCode())
	}
	return nil
}
