// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvAgentID, "")
	t.Setenv(EnvAPIKey, "")
}

func TestLoadValidFile(t *testing.T) {
	clearEnv(t)
	path := writeSettingsFile(t, `
api_url: https://rag.example.com
agent_id: agent-1
api_key: secret
`)
	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rag.example.com", settings.APIURL)
	assert.Equal(t, "agent-1", settings.AgentID)
	assert.Equal(t, "secret", settings.APIKey)
}

func TestLoadMissingFileWithEnv(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://env.example.com")
	t.Setenv(EnvAgentID, "agent-env")
	t.Setenv(EnvAPIKey, "key-env")

	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", settings.APIURL)
}

func TestLoadMissingFileWithoutEnv(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "env-key")
	path := writeSettingsFile(t, `
api_url: https://rag.example.com
agent_id: agent-1
api_key: file-key
`)
	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", settings.APIKey)
}

func TestLoadRejectsInvalidURL(t *testing.T) {
	clearEnv(t)
	path := writeSettingsFile(t, `
api_url: "not a url"
agent_id: agent-1
api_key: secret
`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidSettings)
	assert.Contains(t, err.Error(), "APIURL")
}

func TestLoadRejectsMissingField(t *testing.T) {
	clearEnv(t)
	path := writeSettingsFile(t, `
api_url: https://rag.example.com
agent_id: agent-1
`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidSettings)
	assert.Contains(t, err.Error(), "APIKey")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := writeSettingsFile(t, "api_url: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSettings)
}

func TestReadSkipsValidation(t *testing.T) {
	clearEnv(t)
	path := writeSettingsFile(t, "agent_id: only-this")
	settings, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "only-this", settings.AgentID)
	assert.Empty(t, settings.APIURL)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://env.example.com")
	t.Setenv(EnvAgentID, "a")
	t.Setenv(EnvAPIKey, "k")
	settings, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "a", settings.AgentID)
}
