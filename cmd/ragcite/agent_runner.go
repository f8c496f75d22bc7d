// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"ragcite/pkg/agent"
	"ragcite/pkg/citation"
	"ragcite/pkg/config"
	"ragcite/pkg/conversation"
	"ragcite/pkg/render"
	"ragcite/pkg/ux"
)

// AgentChatRunnerConfig groups everything needed to build an
// AgentChatRunner. Input, Output, and HTTP default to stdin, stdout, and
// a real HTTP client; tests inject fakes.
type AgentChatRunnerConfig struct {
	Settings    config.Settings
	Personality ux.PersonalityLevel
	Input       InputReader
	Output      io.Writer
	HTTP        agent.HTTPClient
}

// AgentChatRunner drives one chat session against a remote agent.
//
// # Description
//
// The runner owns the input loop and display surfaces. Conversation state
// lives in conversation.Conversation; the runner only reflects snapshots:
// in-flight content goes to a replace-style StreamDisplay, committed
// answers are classified into a render plan and drawn via PlanRenderer.
//
// Reconfigure swaps the agent client and conversation when the settings
// file changes on disk, so a running session picks up new credentials
// without a restart.
type AgentChatRunner struct {
	mu       sync.Mutex
	settings config.Settings
	httpc    agent.HTTPClient
	conv     *conversation.Conversation

	input   InputReader
	output  io.Writer
	uiLevel ux.PersonalityLevel
	chatUI  ux.ChatUI
	plans   *ux.PlanRenderer
	display *ux.StreamDisplay
	closed  bool

	thinkMu  sync.Mutex
	thinking *ux.Spinner
}

// NewAgentChatRunner creates a runner from config.
func NewAgentChatRunner(cfg AgentChatRunnerConfig) *AgentChatRunner {
	level := cfg.Personality
	if level == "" {
		level = ux.GetLevel()
	}
	input := cfg.Input
	if input == nil {
		input = NewInteractiveInputReader(50)
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	runner := &AgentChatRunner{
		settings: cfg.Settings,
		httpc:    cfg.HTTP,
		input:    input,
		output:   output,
		uiLevel:  level,
		plans:    ux.NewPlanRenderer(cfg.Output, level),
		display:  ux.NewStreamDisplay(cfg.Output, level),
	}
	if cfg.Output != nil {
		runner.chatUI = ux.NewChatUIWithWriter(cfg.Output, level)
	} else {
		runner.chatUI = ux.NewChatUI()
	}
	runner.conv = runner.newConversation(cfg.Settings)
	return runner
}

// newConversation builds a conversation bound to a client for the given
// settings. The listener mirrors in-flight content to the stream display.
func (r *AgentChatRunner) newConversation(settings config.Settings) *conversation.Conversation {
	clientConfig := agent.Config{
		APIURL:  settings.APIURL,
		AgentID: settings.AgentID,
		APIKey:  settings.APIKey,
	}
	var client *agent.Client
	if r.httpc != nil {
		client = agent.NewClientWithHTTP(r.httpc, clientConfig)
	} else {
		client = agent.NewClient(clientConfig)
	}
	return conversation.New(client, func(snapshot conversation.Snapshot) {
		if !snapshot.Sending || snapshot.StreamingContent == "" {
			return
		}
		// The first frame replaces the waiting indicator with live content.
		r.stopThinking()
		r.display.Update(snapshot.StreamingContent)
	})
}

// startThinking shows a waiting spinner until the first stream frame.
func (r *AgentChatRunner) startThinking() {
	spinner := ux.NewSpinnerForLevel("thinking", r.output, r.uiLevel)
	r.thinkMu.Lock()
	r.thinking = spinner
	r.thinkMu.Unlock()
	spinner.Start()
}

// stopThinking halts the spinner, if one is running. Safe to call twice.
func (r *AgentChatRunner) stopThinking() {
	r.thinkMu.Lock()
	spinner := r.thinking
	r.thinking = nil
	r.thinkMu.Unlock()
	if spinner != nil {
		spinner.Stop()
	}
}

// Run executes the chat loop.
func (r *AgentChatRunner) Run(ctx context.Context) error {
	conv := r.conversation()
	if err := conv.Start(ctx); err != nil {
		r.chatUI.Error(err)
		return err
	}

	snapshot := conv.Snapshot()
	r.mu.Lock()
	settings := r.settings
	r.mu.Unlock()
	r.chatUI.Header(ux.HeaderConfig{
		AgentID:   settings.AgentID,
		SessionID: snapshot.SessionID,
		APIURL:    settings.APIURL,
	})

	// The greeting reply, when the agent sent one.
	r.display.Clear()
	r.renderLastAnswer(conv)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			break
		}
		if line == "/ref" {
			r.showLastReference(conv)
			continue
		}
		if n, ok := parseRefCommand(line); ok {
			r.showReference(conv, n)
			continue
		}

		conv = r.conversation()
		r.startThinking()
		err = conv.SendMessage(ctx, line)
		r.stopThinking()
		if err != nil {
			switch {
			case errors.Is(err, conversation.ErrBusy):
				// Serialized sends: ignore input that raced a stream.
			case errors.Is(err, ctx.Err()) && ctx.Err() != nil:
				return ctx.Err()
			default:
				r.display.Clear()
				r.chatUI.Error(err)
			}
			continue
		}

		r.display.Clear()
		r.renderLastAnswer(conv)
	}

	final := r.conversation().Snapshot()
	r.chatUI.SessionEnd(final.SessionID, len(final.Messages))
	return nil
}

// readLine shows the prompt (unless the reader draws its own) and reads
// one line.
func (r *AgentChatRunner) readLine() (string, error) {
	prompt := r.chatUI.Prompt()
	if p, ok := r.input.(PromptingInputReader); ok {
		p.SetPrompt(prompt)
	} else {
		fmt.Print(prompt)
	}
	return r.input.ReadLine()
}

// renderLastAnswer draws the most recent assistant message as a plan.
func (r *AgentChatRunner) renderLastAnswer(conv *conversation.Conversation) {
	snapshot := conv.Snapshot()
	for i := len(snapshot.Messages) - 1; i >= 0; i-- {
		msg := snapshot.Messages[i]
		if msg.Role != agent.RoleAssistant {
			continue
		}
		refs := conv.ActiveReferences(msg)
		plan := render.Build(msg.Content, refs, false)
		r.plans.RenderPlan(plan)
		return
	}
}

// showReference resolves "/ref n" against the latest assistant message.
func (r *AgentChatRunner) showReference(conv *conversation.Conversation, n int) {
	snapshot := conv.Snapshot()
	var refs []agent.Reference
	for i := len(snapshot.Messages) - 1; i >= 0; i-- {
		if snapshot.Messages[i].Role == agent.RoleAssistant {
			refs = conv.ActiveReferences(snapshot.Messages[i])
			break
		}
	}
	if len(refs) == 0 {
		r.chatUI.Notice("no citations in the last answer")
		return
	}

	attrs := map[string]string{citation.AttrRefIndex: strconv.Itoa(n - 1)}
	if n-1 < len(refs) {
		ref := refs[n-1]
		attrs[citation.AttrDatasetID] = ref.DatasetID
		attrs[citation.AttrDocumentID] = ref.DocumentID
		attrs[citation.AttrChunkID] = ref.ID
	}
	ref, ok := conv.SelectReference(attrs, refs)
	if !ok {
		r.chatUI.Notice("citation " + strconv.Itoa(n) + " is out of range")
		return
	}
	r.chatUI.Reference(ref)
}

// showLastReference redisplays the most recently selected reference, for
// a bare "/ref" with no number.
func (r *AgentChatRunner) showLastReference(conv *conversation.Conversation) {
	ref, ok := conv.SelectedReference()
	if !ok {
		r.chatUI.Notice("no citation selected yet, use '/ref <n>'")
		return
	}
	r.chatUI.Reference(ref)
}

// Reconfigure tears down the current conversation and starts a new one
// against the given settings. Called by the settings watcher.
func (r *AgentChatRunner) Reconfigure(ctx context.Context, settings config.Settings) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.conv.Reset()
	r.settings = settings
	r.conv = r.newConversation(settings)
	conv := r.conv
	r.mu.Unlock()

	slog.Info("settings changed, restarting session", "agent_id", settings.AgentID)
	r.chatUI.Notice("settings changed, starting a new session")
	return conv.Start(ctx)
}

// Invalidate resets the conversation after the settings file became
// invalid. The user must fix the file before chatting again.
func (r *AgentChatRunner) Invalidate(err error) {
	r.mu.Lock()
	if !r.closed {
		r.conv.Reset()
	}
	r.mu.Unlock()
	r.chatUI.Error(err)
}

func (r *AgentChatRunner) conversation() *conversation.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv
}

// Close marks the runner finished. Safe to call multiple times.
func (r *AgentChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var _ ChatRunner = (*AgentChatRunner)(nil)
