package actionspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShortForm_EmptyVersionDefaultsToLatest(t *testing.T) {
	id, err := ParseShortForm("acme/build-tools@")
	require.NoError(t, err)
	assert.Equal(t, "acme/build-tools", id.Name)
	assert.Equal(t, LatestVersion, id.Version)
	assert.Equal(t, "git://github.com/acme/build-tools.git", id.Git)
	assert.Equal(t, DefaultManifestFile, id.File)
}

func TestParseShortForm_AliasRewrite(t *testing.T) {
	id, err := ParseShortForm("DataTorch/checkout@v2")
	require.NoError(t, err)
	assert.Equal(t, "datatorch-actions/checkout", id.Name)
	assert.Equal(t, "v2", id.Version)
}

func TestParseShortForm_RejectsMissingAt(t *testing.T) {
	_, err := ParseShortForm("acme/build-tools")
	require.Error(t, err)
}

func TestParseLongForm_HonorsOverrides(t *testing.T) {
	id, err := ParseLongForm(LongFormConfig{
		Name: "acme/deploy",
		Tag:  "v1.2.0",
		Git:  "git://example.com/acme/deploy.git",
		File: "custom.yaml",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme/deploy", id.Name)
	assert.Equal(t, "v1.2.0", id.Version)
	assert.Equal(t, "git://example.com/acme/deploy.git", id.Git)
	assert.Equal(t, "custom.yaml", id.File)
}

func TestParseLongForm_RequiresName(t *testing.T) {
	_, err := ParseLongForm(LongFormConfig{})
	require.Error(t, err)
}

func TestParse_RejectsMissingRuns(t *testing.T) {
	_, err := Parse([]byte("name: echo\n"))
	require.Error(t, err)
}

func TestParse_FullManifest(t *testing.T) {
	data := []byte(`
name: echo-message
description: prints a message
inputs:
  message:
    type: string
    required: true
outputs:
  msg:
    description: the echoed message
runs:
  using: cmd
  command: echo ::msg::"${{ variable.message }}"
cache: true
`)
	m, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "echo-message", m.Name)
	assert.True(t, m.Cache)
	assert.Equal(t, "cmd", m.Runs.Using())
	require.Contains(t, m.Inputs, "message")
	assert.True(t, m.Inputs["message"].Required)
}
