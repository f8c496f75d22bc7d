// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package ux provides terminal output styling for the ragcite CLI.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Ragcite palette: amber citation accents on a cool slate base.
var (
	ColorAccent    = lipgloss.Color("#E8A33D") // Amber for citation markers
	ColorPrimary   = lipgloss.Color("#7AA2F7") // Soft blue for headings
	ColorSecondary = lipgloss.Color("#5C7CBA") // Dim blue for secondary text
	ColorBorder    = lipgloss.Color("#3B4261") // Box borders
	ColorMutedText = lipgloss.Color("#565F89") // Muted/secondary text

	ColorSuccess = lipgloss.Color("#9ECE6A")
	ColorWarning = lipgloss.Color("#E0AF68")
	ColorError   = lipgloss.Color("#F7768E")
)

// Styles holds the pre-built lipgloss styles used across the CLI.
var Styles = struct {
	Title    lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Citation lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
	EmbedBox   lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorMutedText),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Citation: lipgloss.NewStyle().Foreground(ColorAccent).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
	EmbedBox: lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(ColorSecondary).
		Padding(0, 1),
}

// Icon is a themed status glyph.
type Icon string

const (
	IconSuccess  Icon = "✓"
	IconWarning  Icon = "⚠"
	IconError    Icon = "✗"
	IconBullet   Icon = "•"
	IconCitation Icon = "❡"
)

// Render returns the icon with its semantic color applied.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconCitation:
		return Styles.Citation.Render(string(i))
	default:
		return string(i)
	}
}

// out is the destination for package-level print helpers. Tests swap it.
var out io.Writer = os.Stdout

// SetOutput redirects the package-level print helpers. Returns the
// previous writer so tests can restore it.
func SetOutput(w io.Writer) io.Writer {
	previous := out
	out = w
	return previous
}

// Warning prints a warning line outside any chat session (command setup,
// teardown). In-session surfaces go through ChatUI instead.
func Warning(text string) {
	switch GetLevel() {
	case PersonalityMachine:
		fmt.Fprintf(out, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(out, "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error line outside any chat session.
func Error(text string) {
	switch GetLevel() {
	case PersonalityMachine:
		fmt.Fprintf(out, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(out, "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}
