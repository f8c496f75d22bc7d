// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package config loads and validates the agent connection settings.
//
// Settings come from a YAML file, overridden by environment variables.
// Absence or invalid shape is a hard precondition failure for session
// creation: the conversation layer refuses to start without a valid
// Settings value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variable names, each overriding its file counterpart.
const (
	EnvAPIURL  = "RAGCITE_API_URL"
	EnvAgentID = "RAGCITE_AGENT_ID"
	EnvAPIKey  = "RAGCITE_API_KEY"
)

// ErrInvalidSettings wraps every validation failure from this package.
var ErrInvalidSettings = errors.New("config: invalid settings")

// Settings holds the three values needed to talk to one remote agent.
//
// All fields are required; APIURL must parse as a URL. Validation runs
// through go-playground/validator so the tags are the single source of
// truth for the shape contract.
type Settings struct {
	APIURL  string `yaml:"api_url" validate:"required,url"`
	AgentID string `yaml:"agent_id" validate:"required"`
	APIKey  string `yaml:"api_key" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings shape. The returned error wraps
// ErrInvalidSettings and names the first offending field.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: field %s fails %q", ErrInvalidSettings, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Load reads settings from a YAML file, applies environment overrides, and
// validates the result.
//
// A missing file is not an error by itself when the environment supplies
// every field; any other read failure is.
func Load(path string) (Settings, error) {
	settings, err := Read(path)
	if err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Read loads the file and applies environment overrides without
// validating. Callers that layer further overrides (CLI flags) validate
// the merged result themselves.
func Read(path string) (Settings, error) {
	var settings Settings

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fall through to env-only configuration.
	default:
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	settings.applyEnv()
	return settings, nil
}

// FromEnv builds settings from environment variables alone.
func FromEnv() (Settings, error) {
	var settings Settings
	settings.applyEnv()
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		s.APIURL = v
	}
	if v := os.Getenv(EnvAgentID); v != "" {
		s.AgentID = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		s.APIKey = v
	}
}
