// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package agent implements the client side of the remote RAG agent protocol.
//
// The protocol is fixed and not owned by this repo: a session endpoint that
// returns a server-side conversation handle, and a completion endpoint that
// streams newline-delimited, optionally "data:"-prefixed JSON frames. This
// package holds the wire types and the HTTP plumbing; frame decoding lives
// in pkg/stream.
package agent

// Role values for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one committed turn of the conversation.
//
// Content for an assistant message is the final resolved answer text with
// citation markers still embedded as raw text. Marker resolution happens at
// render time, never at storage time: a Message is immutable once appended
// to the history.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	References []Reference `json:"references,omitempty"`
}

// Reference is a structured citation record (source chunk) returned by the
// remote agent alongside an answer.
//
// Identity for marker resolution is positional: inline markers carry a
// zero-based index into the reference list active at render time. The
// DatasetID/DocumentID/ID triple is the stable key used by pkg/citation's
// secondary index for cross-message lookup.
type Reference struct {
	Content      string  `json:"content"`
	DocumentName string  `json:"document_name"`
	Positions    [][]int `json:"positions"`
	DatasetID    string  `json:"dataset_id,omitempty"`
	DocumentID   string  `json:"document_id,omitempty"`
	ID           string  `json:"id,omitempty"`
}

// Key returns the composite identity key for cross-message lookup, or ""
// when the chunk carries no ids at all (older backend versions).
func (r Reference) Key() string {
	if r.DatasetID == "" && r.DocumentID == "" && r.ID == "" {
		return ""
	}
	return r.DatasetID + "/" + r.DocumentID + "/" + r.ID
}

// CompletionRequest is the body of the streaming completion call.
type CompletionRequest struct {
	Question  string `json:"question"`
	Stream    bool   `json:"stream"`
	SessionID string `json:"session_id"`
}

// sessionResponse is the envelope returned by the session endpoint.
type sessionResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
}
