package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatorch/agent/internal/telemetry"
)

func TestUpdateStepSendsStatusAndIO(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/step/step-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "agent-1", "tok")
	err := c.UpdateStep(context.Background(), "step-1", "SUCCESS", map[string]any{"x": 1}, map[string]any{"y": 2})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", gotBody["status"])
}

func TestUpdateJobReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "agent-1", "tok")
	c.http.SetRetryCount(0)
	err := c.UpdateJob(context.Background(), "job-1", "FAILED")
	assert.Error(t, err)
}

func TestReportHostFactsIncludesAgentID(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "agent-42", "tok")
	err := c.ReportHostFacts(context.Background(), telemetry.HostFacts{OS: "linux"})
	require.NoError(t, err)
	assert.Equal(t, "agent-42", gotBody["agentId"])
}

func TestRegisterCommitParsesRedirectURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"manifestUpload":  map[string]string{"url": "https://blob/manifest"},
			"migrationUpload": map[string]string{"url": "https://blob/migration"},
			"fileUploads": map[string]any{
				"abc123": map[string]string{"url": "https://blob/abc123"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "agent-1", "tok")
	manifestURL, migrationURL, fileURLs, err := c.RegisterCommit(context.Background(), "commit-1", "", []string{"abc123"})
	require.NoError(t, err)
	assert.Equal(t, "https://blob/manifest", manifestURL)
	assert.Equal(t, "https://blob/migration", migrationURL)
	assert.Equal(t, "https://blob/abc123", fileURLs["abc123"])
}
