// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcite/pkg/agent"
)

// fakeService scripts session creation and completion bodies.
type fakeService struct {
	mu         sync.Mutex
	sessionID  string
	sessionErr error
	bodies     []io.ReadCloser
	bodyErr    error
	requests   []agent.CompletionRequest
}

func (f *fakeService) CreateSession(context.Context) (string, error) {
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	return f.sessionID, nil
}

func (f *fakeService) Completion(_ context.Context, req agent.CompletionRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.bodyErr != nil {
		return nil, f.bodyErr
	}
	if len(f.bodies) == 0 {
		return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
	}
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	return body, nil
}

func (f *fakeService) recorded() []agent.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.CompletionRequest(nil), f.requests...)
}

func answerBody(answers ...string) io.ReadCloser {
	var b strings.Builder
	for _, answer := range answers {
		fmt.Fprintf(&b, "data: {\"code\":0,\"data\":{\"answer\":%q}}\n", answer)
	}
	b.WriteString("data: [DONE]\n")
	return io.NopCloser(strings.NewReader(b.String()))
}

// gatedBody releases stream chunks on demand so tests can observe
// mid-stream state.
type gatedBody struct {
	ch chan string
}

func newGatedBody() *gatedBody {
	return &gatedBody{ch: make(chan string, 16)}
}

func (g *gatedBody) send(line string) { g.ch <- line }
func (g *gatedBody) finish()          { close(g.ch) }

func (g *gatedBody) Read(p []byte) (int, error) {
	line, ok := <-g.ch
	if !ok {
		return 0, io.EOF
	}
	return copy(p, line), nil
}

func (g *gatedBody) Close() error { return nil }

func TestStartCreatesSessionAndGreets(t *testing.T) {
	service := &fakeService{
		sessionID: "sess-1",
		bodies:    []io.ReadCloser{answerBody("Hello! Ask me anything.")},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))

	snapshot := conv.Snapshot()
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Equal(t, "sess-1", snapshot.SessionID)

	// The hidden greeting question is not committed; only the reply is.
	require.Len(t, snapshot.Messages, 1)
	assert.Equal(t, agent.RoleAssistant, snapshot.Messages[0].Role)
	assert.Equal(t, "Hello! Ask me anything.", snapshot.Messages[0].Content)

	requests := service.recorded()
	require.Len(t, requests, 1)
	assert.Equal(t, "hi", requests[0].Question)
	assert.Equal(t, "sess-1", requests[0].SessionID)
	assert.True(t, requests[0].Stream)
}

func TestStartIsOneShot(t *testing.T) {
	service := &fakeService{sessionID: "s"}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))
	assert.ErrorIs(t, conv.Start(context.Background()), ErrSessionExists)
}

func TestStartFailureReturnsToUnconfigured(t *testing.T) {
	service := &fakeService{sessionErr: errors.New("401 unauthorized")}
	conv := New(service, nil)
	err := conv.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUnconfigured, conv.Snapshot().State)

	// Failure re-arms the guard so a retry can create the session.
	service.sessionErr = nil
	service.sessionID = "s2"
	require.NoError(t, conv.Start(context.Background()))
	assert.Equal(t, "s2", conv.Snapshot().SessionID)
}

func TestGreetingFailureIsDegraded(t *testing.T) {
	service := &fakeService{sessionID: "s", bodyErr: errors.New("boom")}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))

	snapshot := conv.Snapshot()
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Empty(t, snapshot.Messages)
}

func TestSendMessageCommitsBothTurns(t *testing.T) {
	service := &fakeService{
		sessionID: "s",
		bodies: []io.ReadCloser{
			answerBody("greeting"),
			answerBody("The", "The answer", "The answer is 42"),
		},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))
	require.NoError(t, conv.SendMessage(context.Background(), "what is the answer?"))

	snapshot := conv.Snapshot()
	require.Len(t, snapshot.Messages, 3)
	assert.Equal(t, agent.RoleUser, snapshot.Messages[1].Role)
	assert.Equal(t, "what is the answer?", snapshot.Messages[1].Content)
	assert.Equal(t, agent.RoleAssistant, snapshot.Messages[2].Role)
	assert.Equal(t, "The answer is 42", snapshot.Messages[2].Content)
	assert.Empty(t, snapshot.StreamingContent)
}

func TestSendMessageBeforeStart(t *testing.T) {
	conv := New(&fakeService{}, nil)
	assert.ErrorIs(t, conv.SendMessage(context.Background(), "hello"), ErrNotConfigured)
}

func TestSendMessageEmptyInputIsNoop(t *testing.T) {
	service := &fakeService{sessionID: "s"}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))
	before := len(service.recorded())
	require.NoError(t, conv.SendMessage(context.Background(), "   "))
	assert.Len(t, service.recorded(), before)
}

func TestEmptyFinalAnswerCommitsNothing(t *testing.T) {
	service := &fakeService{
		sessionID: "s",
		bodies: []io.ReadCloser{
			answerBody("greeting"),
			io.NopCloser(strings.NewReader("data: [DONE]\n")),
		},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))
	require.NoError(t, conv.SendMessage(context.Background(), "anyone there?"))

	snapshot := conv.Snapshot()
	// Greeting reply + user turn; no assistant turn for the empty stream.
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, agent.RoleUser, snapshot.Messages[1].Role)
}

func TestStreamErrorCommitsNoAssistantTurn(t *testing.T) {
	gated := newGatedBody()
	service := &fakeService{
		sessionID: "s",
		bodies:    []io.ReadCloser{answerBody("greeting"), gated},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conv.SendMessage(ctx, "question") }()

	gated.send("data: {\"code\":0,\"data\":{\"answer\":\"partial progress\"}}\n")
	require.Eventually(t, func() bool {
		return conv.Snapshot().StreamingContent == "partial progress"
	}, 2*time.Second, 5*time.Millisecond)

	// Abort mid-stream. The second line unblocks the pending read so the
	// decoder can observe the cancelled context.
	cancel()
	gated.send("data: {\"code\":0,\"data\":{\"answer\":\"more\"}}\n")

	err := <-done
	require.Error(t, err)

	snapshot := conv.Snapshot()
	assert.Equal(t, StateIdle, snapshot.State)
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, agent.RoleUser, snapshot.Messages[1].Role)
	assert.Empty(t, snapshot.StreamingContent)
	gated.finish()
}

func TestConcurrentSendRejectedWithErrBusy(t *testing.T) {
	gated := newGatedBody()
	service := &fakeService{
		sessionID: "s",
		bodies:    []io.ReadCloser{answerBody("greeting"), gated},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- conv.SendMessage(context.Background(), "first") }()

	require.Eventually(t, func() bool {
		return conv.Snapshot().State == StateSending
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, conv.SendMessage(context.Background(), "second"), ErrBusy)

	gated.send("data: {\"code\":0,\"data\":{\"answer\":\"done\"}}\n")
	gated.finish()
	require.NoError(t, <-done)

	// Only the first question reached the service.
	requests := service.recorded()
	require.Len(t, requests, 2) // greeting + first
	assert.Equal(t, "first", requests[1].Question)
}

func TestResetOrphansInFlightStream(t *testing.T) {
	gated := newGatedBody()
	service := &fakeService{
		sessionID: "s",
		bodies:    []io.ReadCloser{answerBody("greeting"), gated},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- conv.SendMessage(context.Background(), "question") }()

	require.Eventually(t, func() bool {
		return conv.Snapshot().State == StateSending
	}, 2*time.Second, 5*time.Millisecond)

	conv.Reset()

	// Frames arriving after the reset must not resurface.
	gated.send("data: {\"code\":0,\"data\":{\"answer\":\"stale frame\"}}\n")
	gated.finish()
	<-done

	snapshot := conv.Snapshot()
	assert.Equal(t, StateUnconfigured, snapshot.State)
	assert.Empty(t, snapshot.Messages)
	assert.Empty(t, snapshot.StreamingContent)
}

func TestResetReArmsSessionCreation(t *testing.T) {
	service := &fakeService{sessionID: "s1"}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))
	conv.Reset()

	service.sessionID = "s2"
	require.NoError(t, conv.Start(context.Background()))
	assert.Equal(t, "s2", conv.Snapshot().SessionID)
}

func TestListenerReceivesStreamingFrames(t *testing.T) {
	var mu sync.Mutex
	var streamed []string

	service := &fakeService{
		sessionID: "s",
		bodies: []io.ReadCloser{
			answerBody("greeting"),
			answerBody("a", "ab", "abc"),
		},
	}
	conv := New(service, func(snapshot Snapshot) {
		if snapshot.Sending && snapshot.StreamingContent != "" {
			mu.Lock()
			streamed = append(streamed, snapshot.StreamingContent)
			mu.Unlock()
		}
	})
	require.NoError(t, conv.Start(context.Background()))
	require.NoError(t, conv.SendMessage(context.Background(), "spell abc"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, streamed, "a")
	assert.Contains(t, streamed, "ab")
	assert.Contains(t, streamed, "abc")
}

func TestReferencesCommittedWithMessage(t *testing.T) {
	body := "data: {\"code\":0,\"data\":{\"answer\":\"see ##0$$\",\"reference\":{\"chunks\":[{\"content\":\"c\",\"document_name\":\"doc.pdf\",\"dataset_id\":\"ds\",\"document_id\":\"d\",\"id\":\"ch\"}]}}}\ndata: [DONE]\n"
	service := &fakeService{
		sessionID: "s",
		bodies: []io.ReadCloser{
			answerBody("greeting"),
			io.NopCloser(strings.NewReader(body)),
		},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))
	require.NoError(t, conv.SendMessage(context.Background(), "cite"))

	snapshot := conv.Snapshot()
	last := snapshot.Messages[len(snapshot.Messages)-1]
	require.Len(t, last.References, 1)
	assert.Equal(t, "doc.pdf", last.References[0].DocumentName)

	// Committed references are reachable through the keyed index.
	ref, ok := conv.LookupReference(last.References[0].Key())
	require.True(t, ok)
	assert.Equal(t, "doc.pdf", ref.DocumentName)
}

func TestSelectReference(t *testing.T) {
	conv := New(&fakeService{sessionID: "s"}, nil)
	refs := []agent.Reference{{Content: "c", DocumentName: "doc.pdf", DatasetID: "ds", DocumentID: "d", ID: "ch"}}

	ref, ok := conv.SelectReference(map[string]string{"data-ref-index": "0"}, refs)
	require.True(t, ok)
	assert.Equal(t, "doc.pdf", ref.DocumentName)

	selected, ok := conv.SelectedReference()
	require.True(t, ok)
	assert.Equal(t, ref, selected)

	_, ok = conv.SelectReference(map[string]string{"data-ref-index": "9"}, refs)
	assert.False(t, ok)
}

func TestActiveReferencesPrefersStreamingList(t *testing.T) {
	gated := newGatedBody()
	service := &fakeService{
		sessionID: "s",
		bodies:    []io.ReadCloser{answerBody("greeting"), gated},
	}
	conv := New(service, nil)
	require.NoError(t, conv.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- conv.SendMessage(context.Background(), "q") }()

	gated.send("data: {\"code\":0,\"data\":{\"answer\":\"x\",\"reference\":{\"chunks\":[{\"content\":\"live\",\"id\":\"r1\"}]}}}\n")

	stored := agent.Message{Role: agent.RoleAssistant, References: []agent.Reference{{Content: "stored"}}}
	require.Eventually(t, func() bool {
		refs := conv.ActiveReferences(stored)
		return len(refs) == 1 && refs[0].Content == "live"
	}, 2*time.Second, 5*time.Millisecond)

	gated.finish()
	require.NoError(t, <-done)

	// After the stream ends the stored list is authoritative again.
	refs := conv.ActiveReferences(stored)
	require.Len(t, refs, 1)
	assert.Equal(t, "stored", refs[0].Content)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unconfigured", StateUnconfigured.String())
	assert.Equal(t, "sending", StateSending.String())
	assert.Equal(t, "unknown", State(99).String())
}
