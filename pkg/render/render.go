// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package render classifies answer content and produces render plans.
//
// A Plan is data, not a DOM: leading and trailing Markdown segments with
// citation markers already resolved, an optional embedded-content segment
// with its sandbox decision, and a citation summary strip. Frontends
// (pkg/ux renders plans to a terminal) consume the plan without re-running
// any classification or validation logic.
package render

import (
	"regexp"
	"strings"

	"ragcite/pkg/agent"
	"ragcite/pkg/citation"
	"ragcite/pkg/vizguard"
)

// ContentKind is the outcome of answer classification.
type ContentKind int

const (
	// KindMarkdown is plain Markdown with inline citation markers.
	KindMarkdown ContentKind = iota

	// KindFencedHTML is Markdown containing a ```html fenced block.
	KindFencedHTML

	// KindFullDocument is an answer embedding a complete HTML document
	// (<!DOCTYPE html> or an <html> opening tag).
	KindFullDocument
)

// EmbedState is the sandbox decision for an embedded HTML segment.
type EmbedState int

const (
	// EmbedSandboxed means the payload passed validation and renders in a
	// sandboxed, same-origin-denying embed.
	EmbedSandboxed EmbedState = iota

	// EmbedDrawing means validation failed while the answer is still
	// streaming: show a "drawing in progress" placeholder, no embed yet.
	EmbedDrawing

	// EmbedInsufficient means validation failed on a final answer: show
	// an "insufficient source" notice. FallbackRender signals that the
	// embed may still be attempted best-effort alongside the notice.
	EmbedInsufficient
)

// SandboxTokens are the embed permissions granted to generated
// visualizations. allow-same-origin is deliberately absent: the embed runs
// in an opaque origin.
var SandboxTokens = []string{
	"allow-scripts",
	"allow-forms",
	"allow-top-navigation",
	"allow-popups",
}

// Embed is the embedded-content segment of a plan.
type Embed struct {
	HTML           string                    // Cleaned payload, markers stripped
	RawHTML        string                    // Original segment as extracted
	State          EmbedState                //
	Validation     vizguard.ValidationResult //
	Sandbox        []string                  // Permission tokens for the embed
	FallbackRender bool                      // Render embed anyway on final invalid
}

// CitationEntry is one row of the citation summary strip.
type CitationEntry struct {
	Marker   citation.Marker
	Ref      agent.Reference
	Resolved bool
}

// Plan is a complete render decision for one answer.
type Plan struct {
	Kind      ContentKind
	Leading   string // Markdown, markers resolved
	Embed     *Embed // Nil for pure Markdown answers
	Trailing  string // Markdown, markers resolved
	Citations []CitationEntry
}

// =============================================================================
// Classification
// =============================================================================

var (
	fencedHTMLRe = regexp.MustCompile("(?s)```html[ \t]*\r?\n(.*?)```")
	doctypeRe    = regexp.MustCompile(`(?i)<!DOCTYPE\s+html\s*>`)
	htmlOpenRe   = regexp.MustCompile(`(?i)<html[\s>]`)
	htmlCloseRe  = regexp.MustCompile(`(?i)</html>`)
)

// Classify decides how an answer should be rendered.
//
// Rules are checked in order: a ```html fenced block wins over a bare
// document marker, which wins over plain Markdown.
func Classify(answer string) ContentKind {
	if fencedHTMLRe.MatchString(answer) {
		return KindFencedHTML
	}
	if doctypeRe.MatchString(answer) || htmlOpenRe.MatchString(answer) {
		return KindFullDocument
	}
	return KindMarkdown
}

// Build produces the render plan for an answer.
//
// refs is whichever reference list is active at render time (streaming
// references during a send, the stored message references otherwise).
// streaming selects the placeholder shown when an embedded payload fails
// validation: "drawing in progress" mid-stream, "insufficient source" on a
// final answer.
func Build(answer string, refs []agent.Reference, streaming bool) Plan {
	switch Classify(answer) {
	case KindFencedHTML:
		leading, html, trailing := splitFenced(answer)
		return embedPlan(KindFencedHTML, leading, html, trailing, refs, streaming)
	case KindFullDocument:
		leading, html, trailing := splitDocument(answer)
		return embedPlan(KindFullDocument, leading, html, trailing, refs, streaming)
	default:
		return Plan{
			Kind:    KindMarkdown,
			Leading: citation.Resolve(answer, refs),
		}
	}
}

// splitFenced extracts the first ```html fenced block.
func splitFenced(answer string) (leading, html, trailing string) {
	loc := fencedHTMLRe.FindStringSubmatchIndex(answer)
	leading = answer[:loc[0]]
	html = strings.TrimRight(answer[loc[2]:loc[3]], "\r\n")
	trailing = answer[loc[1]:]
	return leading, html, trailing
}

// splitDocument extracts a full HTML document segment. The segment runs
// from the first document marker through its </html> close when present,
// otherwise to end of string.
func splitDocument(answer string) (leading, html, trailing string) {
	start := -1
	if loc := doctypeRe.FindStringIndex(answer); loc != nil {
		start = loc[0]
	}
	if loc := htmlOpenRe.FindStringIndex(answer); loc != nil && (start < 0 || loc[0] < start) {
		start = loc[0]
	}

	end := len(answer)
	if loc := htmlCloseRe.FindStringIndex(answer[start:]); loc != nil {
		end = start + loc[1]
	}

	return answer[:start], answer[start:end], answer[end:]
}

func embedPlan(kind ContentKind, leading, rawHTML, trailing string, refs []agent.Reference, streaming bool) Plan {
	markers := citation.Find(rawHTML)
	cleaned := citation.Strip(rawHTML)
	validation := vizguard.Validate(cleaned)

	embed := &Embed{
		HTML:       cleaned,
		RawHTML:    rawHTML,
		Validation: validation,
		Sandbox:    SandboxTokens,
	}
	switch {
	case validation.IsValid:
		embed.State = EmbedSandboxed
	case streaming:
		embed.State = EmbedDrawing
	default:
		embed.State = EmbedInsufficient
		embed.FallbackRender = true
	}

	return Plan{
		Kind:      kind,
		Leading:   citation.Resolve(leading, refs),
		Embed:     embed,
		Trailing:  citation.Resolve(trailing, refs),
		Citations: summarize(markers, refs),
	}
}

// summarize resolves every marker found in the embedded segment by the
// same positional index rule used for inline resolution.
func summarize(markers []citation.Marker, refs []agent.Reference) []CitationEntry {
	if len(markers) == 0 {
		return nil
	}
	entries := make([]CitationEntry, 0, len(markers))
	for _, marker := range markers {
		entry := CitationEntry{Marker: marker}
		if marker.Index >= 0 && marker.Index < len(refs) {
			entry.Ref = refs[marker.Index]
			entry.Resolved = true
		}
		entries = append(entries, entry)
	}
	return entries
}
