// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package stream decodes the agent's streamed completion responses.
//
// The wire format is a sequence of newline-delimited lines, most of them
// prefixed with "data:". Each data line carries one JSON frame. Frame shapes
// vary across backend versions ({data:{answer,reference}} vs a bare
// {answer}), so decoding goes through a small priority-ordered set of shape
// predicates into one canonical Frame type before any accumulation logic
// runs.
//
// Layering follows the parser/reader split used elsewhere in this repo:
//
//	io.Reader → LineAssembler → frame decode → Accumulator → callback
package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"ragcite/pkg/agent"
)

// RefMode says how a frame's references combine with the accumulated set.
type RefMode int

const (
	// RefNone means the frame carries no reference payload.
	RefNone RefMode = iota

	// RefReplace means the frame carried a reference.chunks array: the
	// accumulated set is replaced wholesale.
	RefReplace

	// RefAppend means the frame carried a bare reference array: the
	// entries are concatenated onto the accumulated set.
	RefAppend
)

// Frame is the canonical decoded form of one stream line.
//
// HasAnswer distinguishes "no answer field" from "answer is empty string";
// the empty-answer case matters because the accumulator must not let an
// empty placeholder frame erase progress.
type Frame struct {
	Answer    string
	HasAnswer bool
	Refs      []agent.Reference
	RefMode   RefMode
}

// Empty reports whether the frame carries nothing the accumulator cares
// about.
func (f Frame) Empty() bool {
	return !f.HasAnswer && f.RefMode == RefNone
}

// wire shapes. data and reference stay raw because their type varies:
// data may be an object or a bare scalar (some backends send {code,data:true}
// as a trailer), reference may be a {chunks:[...]} object or a bare array.
type wireFrame struct {
	Data   json.RawMessage `json:"data"`
	Answer *string         `json:"answer"`
}

type wireData struct {
	Answer    *string         `json:"answer"`
	Reference json.RawMessage `json:"reference"`
}

type wireReferenceObject struct {
	Chunks []wireChunk `json:"chunks"`
}

type wireChunk struct {
	Content      string  `json:"content"`
	DocumentName string  `json:"document_name"`
	Positions    [][]int `json:"positions"`
	DatasetID    string  `json:"dataset_id"`
	DocumentID   string  `json:"document_id"`
	ID           string  `json:"id"`
}

func (c wireChunk) toReference() agent.Reference {
	positions := c.Positions
	if positions == nil {
		positions = [][]int{}
	}
	return agent.Reference{
		Content:      c.Content,
		DocumentName: c.DocumentName,
		Positions:    positions,
		DatasetID:    c.DatasetID,
		DocumentID:   c.DocumentID,
		ID:           c.ID,
	}
}

// isJSONObject reports whether raw begins an object literal.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// isJSONArray reports whether raw begins an array literal.
func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// DecodeFrame parses one JSON payload into a canonical Frame.
//
// Shape predicates are applied in priority order:
//
//  1. A "data" field holding an object: data.answer (string) and
//     data.reference ({chunks:[...]} object → replace, bare array → append)
//     are both honored; a single frame may carry either or both.
//  2. A top-level "answer" string with no nested data object.
//  3. Anything else decodes to an empty Frame (no-op).
//
// A JSON syntax error is returned to the caller; whether that is fatal
// depends on the line class (data lines log and continue, non-data lines
// are silently ignored).
func DecodeFrame(payload []byte) (Frame, error) {
	var outer wireFrame
	if err := json.Unmarshal(payload, &outer); err != nil {
		return Frame{}, err
	}

	if len(outer.Data) > 0 && isJSONObject(outer.Data) {
		return decodeDataObject(outer.Data)
	}

	if outer.Answer != nil {
		return Frame{Answer: *outer.Answer, HasAnswer: true}, nil
	}

	return Frame{}, nil
}

func decodeDataObject(raw json.RawMessage) (Frame, error) {
	var data wireData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Frame{}, err
	}

	frame := Frame{}
	if data.Answer != nil {
		frame.Answer = *data.Answer
		frame.HasAnswer = true
	}

	switch {
	case len(data.Reference) > 0 && isJSONObject(data.Reference):
		var ref wireReferenceObject
		if err := json.Unmarshal(data.Reference, &ref); err != nil {
			return Frame{}, err
		}
		if ref.Chunks != nil {
			frame.RefMode = RefReplace
			frame.Refs = make([]agent.Reference, 0, len(ref.Chunks))
			for _, chunk := range ref.Chunks {
				frame.Refs = append(frame.Refs, chunk.toReference())
			}
		}
	case len(data.Reference) > 0 && isJSONArray(data.Reference):
		var chunks []wireChunk
		if err := json.Unmarshal(data.Reference, &chunks); err != nil {
			return Frame{}, err
		}
		frame.RefMode = RefAppend
		frame.Refs = make([]agent.Reference, 0, len(chunks))
		for _, chunk := range chunks {
			frame.Refs = append(frame.Refs, chunk.toReference())
		}
	}

	return frame, nil
}

// =============================================================================
// Accumulator
// =============================================================================

// Accumulator holds the transient streaming state for one in-flight
// completion: the latest full answer and the current reference set.
//
// Answer semantics are latest-wins, never concatenation: each frame's
// answer replaces the prior value. An empty answer only sticks when nothing
// has been accumulated yet, guarding against reference-only frames that
// carry an empty placeholder answer.
//
// Not safe for concurrent use; one accumulator is exclusively owned by the
// single active stream routine (pkg/conversation enforces that only one
// send is in flight).
type Accumulator struct {
	content string
	refs    []agent.Reference
}

// Apply folds one frame into the accumulated state and reports whether
// anything changed.
func (a *Accumulator) Apply(frame Frame) bool {
	changed := false

	if frame.HasAnswer {
		if strings.TrimSpace(frame.Answer) != "" || a.content == "" {
			if a.content != frame.Answer {
				a.content = frame.Answer
				changed = true
			}
		}
	}

	switch frame.RefMode {
	case RefReplace:
		a.refs = append([]agent.Reference(nil), frame.Refs...)
		changed = true
	case RefAppend:
		if len(frame.Refs) > 0 {
			a.refs = append(a.refs, frame.Refs...)
			changed = true
		}
	}

	return changed
}

// Content returns the latest accumulated answer.
func (a *Accumulator) Content() string { return a.content }

// References returns a copy of the accumulated reference set.
func (a *Accumulator) References() []agent.Reference {
	return append([]agent.Reference(nil), a.refs...)
}

// Reset clears the accumulator back to empty.
func (a *Accumulator) Reset() {
	a.content = ""
	a.refs = nil
}
