// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package stream

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"ragcite/pkg/agent"
)

// doneSentinel is the terminator payload some backends send as the last
// data line. It is skipped, not parsed.
const doneSentinel = "[DONE]"

// defaultChunkSize is the read buffer size for the assembler. Small enough
// to exercise mid-line chunk boundaries in practice, large enough not to
// matter for throughput at chat scale.
const defaultChunkSize = 4096

// =============================================================================
// Line Assembler
// =============================================================================

// LineAssembler turns an arbitrary chunked byte stream into complete lines.
//
// # Description
//
// Chunks are appended to an internal byte buffer and split on '\n'; every
// complete line is handed to the callback, and the trailing fragment is
// retained as the new buffer head for the next read. Multi-byte UTF-8
// sequences never contain the newline byte, so byte-level splitting keeps
// runes that span chunk boundaries intact.
//
// Termination: when the read reports io.EOF, any unterminated trailing
// fragment is discarded, not processed. A well-formed stream always ends
// its last frame with a newline.
//
// # Thread Safety
//
// Not safe for concurrent use. One assembler per stream.
type LineAssembler struct {
	buf       []byte
	chunkSize int
}

// NewLineAssembler creates an assembler with the default read chunk size.
func NewLineAssembler() *LineAssembler {
	return &LineAssembler{chunkSize: defaultChunkSize}
}

// Run reads r to completion, invoking onLine for every complete line.
//
// The context is checked between reads; cancellation aborts with ctx.Err().
// A callback error stops the loop and is returned as-is.
func (a *LineAssembler) Run(ctx context.Context, r io.Reader, onLine func(line string) error) error {
	chunk := make([]byte, a.chunkSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			a.buf = append(a.buf, chunk[:n]...)
			if cbErr := a.drainLines(onLine); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			// An unterminated trailing fragment is never processed.
			if len(a.buf) > 0 {
				slog.Debug("discarding unterminated trailing fragment",
					"fragment_bytes", len(a.buf),
				)
				a.buf = nil
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// drainLines hands every complete buffered line to the callback and keeps
// the unterminated remainder.
func (a *LineAssembler) drainLines(onLine func(line string) error) error {
	for {
		idx := -1
		for i, b := range a.buf {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		line := string(a.buf[:idx])
		a.buf = a.buf[idx+1:]
		if err := onLine(line); err != nil {
			return err
		}
	}
}

// =============================================================================
// Decoder
// =============================================================================

// Update carries the accumulated state after a frame changed it.
type Update struct {
	Content    string
	References []agent.Reference
}

// UpdateFunc receives every state-changing frame, synchronously and in
// arrival order. No debouncing: the UI is expected to reflect every
// intermediate frame.
type UpdateFunc func(Update)

// Result is the final accumulated state after a clean stream end.
type Result struct {
	Content    string
	References []agent.Reference
}

// Decoder consumes a completion body stream and accumulates the answer.
//
// # Description
//
// Decoder wires the LineAssembler, the frame decode, and an Accumulator
// together:
//
//   - "data:"-prefixed lines have the prefix stripped and are trimmed. The
//     [DONE] sentinel and empty payloads are skipped. A JSON parse failure
//     on a data line is logged and the stream continues.
//   - Other non-empty lines get a best-effort parse; failures are silently
//     ignored (keep-alive noise).
//
// Each successfully decoded frame is folded into the accumulator; when the
// fold changes content or references, the update callback fires before the
// next line is processed.
//
// # Failure Semantics
//
// A read error aborts the loop and is returned; the caller commits nothing
// in that case. A clean end returns the final accumulated state; whether a
// non-empty result becomes a committed message is the caller's decision.
type Decoder struct {
	assembler *LineAssembler
	acc       Accumulator
}

// NewDecoder creates a Decoder with a fresh accumulator.
func NewDecoder() *Decoder {
	return &Decoder{assembler: NewLineAssembler()}
}

// Run decodes the stream to completion.
//
// onUpdate may be nil when the caller only wants the final result.
func (d *Decoder) Run(ctx context.Context, r io.Reader, onUpdate UpdateFunc) (*Result, error) {
	err := d.assembler.Run(ctx, r, func(line string) error {
		d.processLine(line, onUpdate)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Content:    d.acc.Content(),
		References: d.acc.References(),
	}, nil
}

// processLine classifies and applies a single line. Parse problems never
// escalate beyond this function.
func (d *Decoder) processLine(line string, onUpdate UpdateFunc) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	if strings.HasPrefix(trimmed, "data:") {
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if payload == "" || payload == doneSentinel {
			return
		}
		frame, err := DecodeFrame([]byte(payload))
		if err != nil {
			slog.Warn("malformed data frame skipped",
				"error", err,
				"payload_bytes", len(payload),
			)
			return
		}
		d.apply(frame, onUpdate)
		return
	}

	// Non-data protocol noise: best-effort parse, silently ignored on
	// failure.
	frame, err := DecodeFrame([]byte(trimmed))
	if err != nil {
		return
	}
	d.apply(frame, onUpdate)
}

func (d *Decoder) apply(frame Frame, onUpdate UpdateFunc) {
	if frame.Empty() {
		return
	}
	if d.acc.Apply(frame) && onUpdate != nil {
		onUpdate(Update{
			Content:    d.acc.Content(),
			References: d.acc.References(),
		})
	}
}
