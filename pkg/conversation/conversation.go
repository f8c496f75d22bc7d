// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package conversation owns the chat session state machine.
//
// One Conversation owns all chat state for the lifetime of one settings
// configuration: the committed message history, the transient streaming
// buffers of the single in-flight send, and the session handle obtained
// from the remote agent. State transitions:
//
//	Unconfigured → CreatingSession → SessionReady →
//	AwaitingGreeting → Idle ⇄ Sending, any → Unconfigured on Reset
//
// Sends are strictly serialized: a SendMessage call while one is in flight
// is rejected with ErrBusy, not queued. Every send is tagged with a
// monotonically increasing sequence; frames from a superseded send are
// dropped instead of mutating state.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ragcite/pkg/agent"
	"ragcite/pkg/citation"
	"ragcite/pkg/stream"
)

// greetingQuestion is the hidden message auto-sent once per session so the
// agent produces its opening reply.
const greetingQuestion = "hi"

// State is the conversation lifecycle state.
type State int

const (
	StateUnconfigured State = iota
	StateCreatingSession
	StateSessionReady
	StateAwaitingGreeting
	StateIdle
	StateSending
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateCreatingSession:
		return "creating_session"
	case StateSessionReady:
		return "session_ready"
	case StateAwaitingGreeting:
		return "awaiting_greeting"
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned when SendMessage is called while a send is in
	// flight. Callers may treat it as a silent no-op.
	ErrBusy = errors.New("conversation: send already in flight")

	// ErrNotConfigured is returned when an operation needs a session but
	// the conversation is unconfigured or session creation never ran.
	ErrNotConfigured = errors.New("conversation: not configured")

	// ErrSessionExists guards the one-shot session creation.
	ErrSessionExists = errors.New("conversation: session already created")
)

// Service is the slice of the agent client this package needs. The
// concrete *agent.Client satisfies it; tests inject fakes.
type Service interface {
	CreateSession(ctx context.Context) (string, error)
	Completion(ctx context.Context, req agent.CompletionRequest) (io.ReadCloser, error)
}

// Snapshot is the reactive state handed to the UI after every change.
type Snapshot struct {
	State               State
	SessionID           string
	Messages            []agent.Message
	StreamingContent    string
	StreamingReferences []agent.Reference
	Sending             bool
}

// Listener receives snapshots synchronously, in event order, including one
// per applied stream frame (no debouncing).
type Listener func(Snapshot)

// Conversation is the chat session state machine.
//
// # Thread Safety
//
// All exported methods are mutex-guarded and safe for concurrent use, but
// the design intent is event-loop style: one caller driving sends, the
// listener reflecting state into a UI.
type Conversation struct {
	service Service

	mu              sync.Mutex
	state           State
	sessionID       string
	messages        []agent.Message
	streamContent   string
	streamRefs      []agent.Reference
	sessionCreated  bool // one-shot per configuration
	greetingSent    bool // one-shot per session
	sendSeq         uint64
	activeSeq       uint64
	selectedRef     *agent.Reference
	refIndex        *citation.Index
	listener        Listener
}

// New creates a Conversation in the Unconfigured state.
//
// listener may be nil. The conversation stays unusable until Start
// succeeds.
func New(service Service, listener Listener) *Conversation {
	return &Conversation{
		service:  service,
		state:    StateUnconfigured,
		refIndex: citation.NewIndex(nil),
		listener: listener,
	}
}

// Start creates the session and sends the hidden greeting.
//
// # Description
//
// Runs the Unconfigured → CreatingSession → SessionReady →
// AwaitingGreeting → Idle path. Both the session creation and the
// greeting are one-shot per configuration: calling Start twice returns
// ErrSessionExists without touching the server.
//
// On session-creation failure the conversation returns to Unconfigured;
// the caller surfaces a notice and redirects the user to reconfigure
// settings. A greeting failure is degraded, not fatal: the session stays
// usable and the conversation lands in Idle with no greeting message.
func (c *Conversation) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sessionCreated {
		c.mu.Unlock()
		return ErrSessionExists
	}
	c.sessionCreated = true
	c.state = StateCreatingSession
	c.mu.Unlock()
	c.notify()

	sessionID, err := c.service.CreateSession(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateUnconfigured
		c.sessionCreated = false
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("conversation: create session: %w", err)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.state = StateSessionReady
	c.mu.Unlock()
	c.notify()
	slog.Info("chat session created", "session_id", sessionID)

	if err := c.sendGreeting(ctx); err != nil {
		slog.Warn("initial greeting failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// sendGreeting auto-sends the hidden "hi" once per session. The user turn
// is not committed to history; only the agent's opening reply is.
func (c *Conversation) sendGreeting(ctx context.Context) error {
	c.mu.Lock()
	if c.greetingSent {
		c.mu.Unlock()
		return nil
	}
	c.greetingSent = true
	c.state = StateAwaitingGreeting
	c.mu.Unlock()
	c.notify()

	err := c.send(ctx, greetingQuestion, true)

	c.mu.Lock()
	if c.state == StateAwaitingGreeting {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.notify()
	return err
}

// SendMessage sends one user message and blocks until the stream ends.
//
// # Description
//
// Rejected with ErrBusy while another send is in flight (serialized, not
// queued) and with ErrNotConfigured before Start succeeded. The user turn
// is committed immediately; the assistant turn is committed only on clean
// stream end with non-empty content. On a transport error nothing is
// committed for the assistant and earlier turns stay untouched.
func (c *Conversation) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	switch {
	case c.state == StateUnconfigured || c.state == StateCreatingSession:
		c.mu.Unlock()
		return ErrNotConfigured
	case c.state == StateSending || c.state == StateAwaitingGreeting:
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateSending
	c.mu.Unlock()
	c.notify()

	err := c.send(ctx, text, false)

	// A Reset while the stream was in flight already moved the state; do
	// not clobber it back to Idle.
	c.mu.Lock()
	if c.state == StateSending {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.notify()
	return err
}

// send runs one completion exchange. isInitial hides the user turn.
func (c *Conversation) send(ctx context.Context, question string, isInitial bool) error {
	requestID := uuid.New().String()

	c.mu.Lock()
	c.sendSeq++
	seq := c.sendSeq
	c.activeSeq = seq
	c.streamContent = ""
	c.streamRefs = nil
	sessionID := c.sessionID
	if !isInitial {
		c.messages = append(c.messages, agent.Message{Role: agent.RoleUser, Content: question})
	}
	c.mu.Unlock()
	c.notify()

	slog.Debug("sending completion request",
		"request_id", requestID,
		"session_id", sessionID,
		"initial", isInitial,
		"question_length", len(question),
	)

	body, err := c.service.Completion(ctx, agent.CompletionRequest{
		Question:  question,
		Stream:    true,
		SessionID: sessionID,
	})
	if err != nil {
		c.clearStreaming(seq)
		return fmt.Errorf("conversation: completion request: %w", err)
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			slog.Error("failed to close completion body", "error", closeErr)
		}
	}()

	decoder := stream.NewDecoder()
	result, err := decoder.Run(ctx, body, func(update stream.Update) {
		c.applyUpdate(seq, update)
	})
	if err != nil {
		// Hard transport failure: nothing is committed, not even content
		// accumulated so far.
		c.clearStreaming(seq)
		slog.Error("completion stream failed",
			"request_id", requestID,
			"session_id", sessionID,
			"error", err,
		)
		return fmt.Errorf("conversation: read stream: %w", err)
	}

	c.commit(seq, result)
	return nil
}

// applyUpdate folds one stream frame into the reactive streaming state,
// dropping frames whose send sequence has been superseded.
func (c *Conversation) applyUpdate(seq uint64, update stream.Update) {
	c.mu.Lock()
	if seq != c.activeSeq {
		c.mu.Unlock()
		slog.Debug("dropping stale stream frame", "seq", seq, "active_seq", c.activeSeq)
		return
	}
	c.streamContent = update.Content
	c.streamRefs = update.References
	c.mu.Unlock()
	c.notify()
}

// commit finalizes a cleanly ended stream: a non-empty trimmed answer
// becomes one assistant message carrying the final references; an empty
// one commits nothing. Streaming state is cleared either way.
func (c *Conversation) commit(seq uint64, result *stream.Result) {
	c.mu.Lock()
	if seq != c.activeSeq {
		c.mu.Unlock()
		return
	}
	if strings.TrimSpace(result.Content) != "" {
		c.messages = append(c.messages, agent.Message{
			Role:       agent.RoleAssistant,
			Content:    result.Content,
			References: result.References,
		})
		c.refIndex.Add(result.References)
	}
	c.streamContent = ""
	c.streamRefs = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) clearStreaming(seq uint64) {
	c.mu.Lock()
	if seq == c.activeSeq {
		c.streamContent = ""
		c.streamRefs = nil
	}
	c.mu.Unlock()
	c.notify()
}

// Reset tears the conversation down to Unconfigured.
//
// Used on explicit settings reset: history, session handle and the
// one-shot guards are all dropped, so a new configuration gets a fresh
// session and greeting.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.state = StateUnconfigured
	c.sessionID = ""
	c.messages = nil
	c.streamContent = ""
	c.streamRefs = nil
	c.sessionCreated = false
	c.greetingSent = false
	c.activeSeq = c.sendSeq + 1 // orphan any in-flight stream
	c.selectedRef = nil
	c.refIndex = citation.NewIndex(nil)
	c.mu.Unlock()
	c.notify()
}

// =============================================================================
// Reactive Accessors
// =============================================================================

// Snapshot returns a copy of the current reactive state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() Snapshot {
	return Snapshot{
		State:               c.state,
		SessionID:           c.sessionID,
		Messages:            append([]agent.Message(nil), c.messages...),
		StreamingContent:    c.streamContent,
		StreamingReferences: append([]agent.Reference(nil), c.streamRefs...),
		Sending:             c.state == StateSending || c.state == StateAwaitingGreeting,
	}
}

// ActiveReferences returns the reference list markers should resolve
// against right now: the streaming list while a stream is in progress and
// non-empty, otherwise the given message's stored list. Render-time
// binding, never stored.
func (c *Conversation) ActiveReferences(msg agent.Message) []agent.Reference {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSending && len(c.streamRefs) > 0 {
		return append([]agent.Reference(nil), c.streamRefs...)
	}
	return msg.References
}

// SelectReference resolves a clicked marker's data attributes against the
// currently relevant reference list and records the selection.
//
// The positional index re-lookup follows the same rule as rendering; the
// resolved reference is enriched with the ids captured on the element.
func (c *Conversation) SelectReference(attrs map[string]string, activeRefs []agent.Reference) (agent.Reference, bool) {
	ref, ok := citation.ResolveClick(attrs, activeRefs)
	if !ok {
		return agent.Reference{}, false
	}
	c.mu.Lock()
	c.selectedRef = &ref
	c.refIndex.Add([]agent.Reference{ref})
	c.mu.Unlock()
	return ref, true
}

// SelectedReference returns the last clicked reference, if any.
func (c *Conversation) SelectedReference() (agent.Reference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedRef == nil {
		return agent.Reference{}, false
	}
	return *c.selectedRef, true
}

// LookupReference resolves a composite dataset/document/chunk key through
// the keyed secondary index (the canonical identity for cross-message
// lookups; positional indices remain wire-format only).
func (c *Conversation) LookupReference(key string) (agent.Reference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refIndex.Lookup(key)
}

func (c *Conversation) notify() {
	if c.listener == nil {
		return
	}
	c.listener(c.Snapshot())
}
