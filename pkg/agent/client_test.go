// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHTTP records the last request and replays a canned response.
type mockHTTP struct {
	lastRequest *http.Request
	lastBody    []byte
	response    *http.Response
	err         error
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	m.lastRequest = req
	if req.Body != nil {
		m.lastBody, _ = io.ReadAll(req.Body)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testConfig() Config {
	return Config{
		APIURL:  "https://rag.example.com/",
		AgentID: "agent-7",
		APIKey:  "sk-test",
	}
}

func TestCreateSessionSuccess(t *testing.T) {
	mock := &mockHTTP{response: jsonResponse(200, `{"code":0,"data":{"id":"sess-42"}}`)}
	client := NewClientWithHTTP(mock, testConfig())

	id, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-42", id)

	// Trailing slash on the base URL must not double up.
	assert.Equal(t, "https://rag.example.com/api/v1/agents/agent-7/sessions",
		mock.lastRequest.URL.String())
	assert.Equal(t, http.MethodPost, mock.lastRequest.Method)
	assert.Equal(t, "Bearer sk-test", mock.lastRequest.Header.Get("Authorization"))
	assert.Equal(t, "application/json", mock.lastRequest.Header.Get("Content-Type"))
}

func TestCreateSessionNonZeroCode(t *testing.T) {
	mock := &mockHTTP{response: jsonResponse(200, `{"code":102,"message":"agent not found"}`)}
	client := NewClientWithHTTP(mock, testConfig())

	_, err := client.CreateSession(context.Background())
	require.ErrorIs(t, err, ErrSessionRejected)
	assert.Contains(t, err.Error(), "agent not found")
}

func TestCreateSessionMissingID(t *testing.T) {
	mock := &mockHTTP{response: jsonResponse(200, `{"code":0,"data":{}}`)}
	client := NewClientWithHTTP(mock, testConfig())

	_, err := client.CreateSession(context.Background())
	assert.ErrorIs(t, err, ErrSessionRejected)
}

func TestCreateSessionHTTPStatusError(t *testing.T) {
	mock := &mockHTTP{response: jsonResponse(401, `{"detail":"bad key"}`)}
	client := NewClientWithHTTP(mock, testConfig())

	_, err := client.CreateSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad key")
}

func TestCreateSessionTransportError(t *testing.T) {
	mock := &mockHTTP{err: errors.New("connection refused")}
	client := NewClientWithHTTP(mock, testConfig())

	_, err := client.CreateSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCreateSessionMalformedEnvelope(t *testing.T) {
	mock := &mockHTTP{response: jsonResponse(200, `not json`)}
	client := NewClientWithHTTP(mock, testConfig())

	_, err := client.CreateSession(context.Background())
	assert.Error(t, err)
}

func TestCompletionReturnsUnreadBody(t *testing.T) {
	streamBody := "data: {\"code\":0,\"data\":{\"answer\":\"hello\"}}\ndata: [DONE]\n"
	mock := &mockHTTP{response: jsonResponse(200, streamBody)}
	client := NewClientWithHTTP(mock, testConfig())

	body, err := client.Completion(context.Background(), CompletionRequest{
		Question:  "what?",
		Stream:    true,
		SessionID: "sess-42",
	})
	require.NoError(t, err)
	defer body.Close()

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, streamBody, string(got))

	assert.Equal(t, "https://rag.example.com/api/v1/agents/agent-7/completions",
		mock.lastRequest.URL.String())

	var sent CompletionRequest
	require.NoError(t, json.Unmarshal(mock.lastBody, &sent))
	assert.Equal(t, "what?", sent.Question)
	assert.True(t, sent.Stream)
	assert.Equal(t, "sess-42", sent.SessionID)
}

func TestCompletionStatusError(t *testing.T) {
	mock := &mockHTTP{response: jsonResponse(500, "internal error")}
	client := NewClientWithHTTP(mock, testConfig())

	_, err := client.Completion(context.Background(), CompletionRequest{Question: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestCompletionMissingBody(t *testing.T) {
	mock := &mockHTTP{response: &http.Response{StatusCode: 200}}
	client := NewClientWithHTTP(mock, testConfig())

	_, err := client.Completion(context.Background(), CompletionRequest{Question: "q"})
	assert.ErrorIs(t, err, ErrMissingBody)
}

func TestReferenceKey(t *testing.T) {
	assert.Equal(t, "ds/doc/ch", Reference{DatasetID: "ds", DocumentID: "doc", ID: "ch"}.Key())
	assert.Equal(t, "", Reference{Content: "no ids"}.Key())
	assert.Equal(t, "//ch", Reference{ID: "ch"}.Key())
}
