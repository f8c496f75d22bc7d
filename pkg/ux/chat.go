// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"

	"ragcite/pkg/agent"
)

// HeaderConfig groups the optional fields of the chat header so new
// metadata can be added without breaking callers.
type HeaderConfig struct {
	AgentID   string
	SessionID string
	APIURL    string
}

// ChatUI renders the non-answer chat surfaces: header, prompt, reference
// details, errors, and session lifecycle notices. Answer bodies go through
// PlanRenderer; this interface covers everything around them.
type ChatUI interface {
	// Header displays the session header once after session creation.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string.
	Prompt() string

	// Reference displays the detail panel for a selected reference.
	Reference(ref agent.Reference)

	// Notice displays a transient informational message.
	Notice(text string)

	// Error displays a chat error.
	Error(err error)

	// SessionEnd displays the end-of-session line.
	SessionEnd(sessionID string, messageCount int)
}

type terminalChatUI struct {
	writer io.Writer
	level  PersonalityLevel
}

// NewChatUI creates a terminal ChatUI using the current personality.
func NewChatUI() ChatUI {
	return &terminalChatUI{writer: os.Stdout, level: GetLevel()}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer, for tests.
func NewChatUIWithWriter(w io.Writer, level PersonalityLevel) ChatUI {
	return &terminalChatUI{writer: w, level: level}
}

// write ignores terminal write errors; there is no recovery for them.
func (u *terminalChatUI) write(format string, args ...any) {
	_, _ = fmt.Fprintf(u.writer, format, args...)
}

func (u *terminalChatUI) Header(config HeaderConfig) {
	switch u.level {
	case PersonalityMachine:
		u.write("CHAT_START: agent=%s session=%s\n", config.AgentID, config.SessionID)
	case PersonalityMinimal:
		u.write("Chat with agent %s\n", config.AgentID)
		u.write("Session: %s\n", config.SessionID)
		u.write("Type 'exit' to end.\n")
	default:
		body := fmt.Sprintf("Agent    %s\nSession  %s", config.AgentID, config.SessionID)
		if config.APIURL != "" {
			body += fmt.Sprintf("\nServer   %s", config.APIURL)
		}
		u.write("%s\n", Styles.Box.Render(Styles.Title.Render("ragcite chat")+"\n"+body))
		u.write("%s\n", Styles.Muted.Render("Type 'exit' to end, '/ref <n>' to inspect a citation."))
	}
}

func (u *terminalChatUI) Prompt() string {
	if u.level == PersonalityMachine {
		return "> "
	}
	return Styles.Citation.Render("❯ ")
}

func (u *terminalChatUI) Reference(ref agent.Reference) {
	if u.level == PersonalityMachine {
		u.write("REFERENCE: document=%s dataset=%s chunk=%s\n", ref.DocumentName, ref.DatasetID, ref.ID)
		if ref.Content != "" {
			u.write("REFERENCE_CONTENT: %s\n", ref.Content)
		}
		return
	}

	title := ref.DocumentName
	if title == "" {
		title = "Reference"
	}
	body := ref.Content
	if body == "" {
		body = Styles.Muted.Render("(no excerpt available)")
	}
	if key := ref.Key(); key != "" {
		body += "\n" + Styles.Muted.Render(key)
	}
	u.write("%s\n", Styles.Box.Render(Styles.Title.Render(IconCitation.Render()+" "+title)+"\n"+body))
}

func (u *terminalChatUI) Notice(text string) {
	if u.level == PersonalityMachine {
		u.write("NOTICE: %s\n", text)
		return
	}
	u.write("%s %s\n", Styles.Muted.Render("│"), text)
}

func (u *terminalChatUI) Error(err error) {
	if u.level == PersonalityMachine {
		u.write("ERROR: %v\n", err)
		return
	}
	u.write("%s\n", Styles.ErrorBox.Render(Styles.Error.Bold(true).Render("Error")+"\n"+err.Error()))
}

func (u *terminalChatUI) SessionEnd(sessionID string, messageCount int) {
	if u.level == PersonalityMachine {
		u.write("CHAT_END: session=%s messages=%d\n", sessionID, messageCount)
		return
	}
	u.write("%s\n", Styles.Muted.Render(fmt.Sprintf("Session %s ended after %d messages.", sessionID, messageCount)))
}

var _ ChatUI = (*terminalChatUI)(nil)
