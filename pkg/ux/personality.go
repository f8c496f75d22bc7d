// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel controls how much visual styling the CLI emits.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, boxes, spinners, and rendered Markdown.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal keeps icons and basic formatting only.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine emits plain KEY: value lines for scripting.
	PersonalityMachine PersonalityLevel = "machine"
)

// EnvPersonality overrides the auto-detected personality level.
const EnvPersonality = "RAGCITE_PERSONALITY"

var (
	currentLevel PersonalityLevel = PersonalityFull
	levelMu      sync.RWMutex
)

// GetLevel returns the current personality level.
func GetLevel() PersonalityLevel {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return currentLevel
}

// SetLevel updates the current personality level.
func SetLevel(level PersonalityLevel) {
	levelMu.Lock()
	defer levelMu.Unlock()
	currentLevel = level
}

// ParseLevel converts a flag or env value to a PersonalityLevel.
func ParseLevel(s string) PersonalityLevel {
	switch strings.ToLower(s) {
	case "full", "f":
		return PersonalityFull
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// InitPersonality picks the level from the environment, falling back to
// machine mode when stdout is not a terminal (pipes, redirects, CI).
func InitPersonality() {
	if env := os.Getenv(EnvPersonality); env != "" {
		SetLevel(ParseLevel(env))
		return
	}
	if !IsTerminal() {
		SetLevel(PersonalityMachine)
		return
	}
	SetLevel(PersonalityFull)
}

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether interactive prompts should be shown.
func IsInteractive() bool {
	return GetLevel() != PersonalityMachine && IsTerminal()
}
