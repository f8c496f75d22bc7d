// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package citation recognizes and rewrites inline citation markers.
//
// Answers from the remote agent embed citation placeholders in one of three
// historically distinct syntaxes, emitted by different backend versions and
// free to co-occur in a single answer:
//
//	##0$$      original format
//	[ID:0]     bracket format
//	(ID:0)     parenthesis format
//
// The digits are a zero-based index into the reference list active at
// render time. Resolution is a render-time binding, never stored: the same
// marker can resolve against streaming references mid-flight and against
// the committed message's references afterwards.
package citation

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"

	"ragcite/pkg/agent"
)

// Grammar identifies which marker syntax an occurrence used.
type Grammar string

const (
	GrammarHash    Grammar = "hash"    // ##k$$
	GrammarBracket Grammar = "bracket" // [ID:k]
	GrammarParen   Grammar = "paren"   // (ID:k)
)

// One compiled pattern per grammar. Each grammar gets its own global
// substitution pass, matching the historical behavior; patterns tolerate
// whitespace around the digits.
var grammarPatterns = []struct {
	grammar Grammar
	re      *regexp.Regexp
}{
	{GrammarHash, regexp.MustCompile(`##\s*(\d+)\s*\$\$`)},
	{GrammarBracket, regexp.MustCompile(`\[ID:\s*(\d+)\s*\]`)},
	{GrammarParen, regexp.MustCompile(`\(ID:\s*(\d+)\s*\)`)},
}

// Marker is one recognized citation occurrence in a text.
type Marker struct {
	Index   int     // Zero-based reference index parsed from the digits
	Grammar Grammar // Which syntax matched
	Raw     string  // The matched text
	Start   int     // Byte offset of the match start
	End     int     // Byte offset one past the match end
}

// Data attribute names carried by every resolved marker element. Click
// handling reads these back off the element to re-look-up the reference.
const (
	AttrRefIndex   = "data-ref-index"
	AttrDatasetID  = "data-dataset-id"
	AttrDocumentID = "data-document-id"
	AttrChunkID    = "data-chunk-id"
)

// Resolve rewrites every recognized marker into an inline clickable element.
//
// Each resolvable index produces a span carrying the four data attributes
// derived from the reference at that position. An out-of-bounds index
// renders as a distinct "unknown reference" marker instead of failing; the
// function has no error path and is deterministic.
//
// Formats are processed independently, one global substitution pass per
// grammar.
func Resolve(text string, refs []agent.Reference) string {
	for _, pattern := range grammarPatterns {
		text = pattern.re.ReplaceAllStringFunc(text, func(match string) string {
			digits := pattern.re.FindStringSubmatch(match)[1]
			index, err := strconv.Atoi(digits)
			if err != nil || index < 0 || index >= len(refs) {
				return unknownMarkerHTML
			}
			return markerHTML(index, refs[index])
		})
	}
	return text
}

// unknownMarkerHTML is what an unresolvable index renders as.
const unknownMarkerHTML = `<span class="citation-marker citation-marker-unknown">[?]</span>`

func markerHTML(index int, ref agent.Reference) string {
	return fmt.Sprintf(
		`<span class="citation-marker" %s="%d" %s="%s" %s="%s" %s="%s">[%d]</span>`,
		AttrRefIndex, index,
		AttrDatasetID, html.EscapeString(ref.DatasetID),
		AttrDocumentID, html.EscapeString(ref.DocumentID),
		AttrChunkID, html.EscapeString(ref.ID),
		index+1,
	)
}

// Find returns every marker occurrence across all three grammars, ordered
// by position in the text.
func Find(text string) []Marker {
	var markers []Marker
	for _, pattern := range grammarPatterns {
		for _, loc := range pattern.re.FindAllStringSubmatchIndex(text, -1) {
			index, err := strconv.Atoi(text[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			markers = append(markers, Marker{
				Index:   index,
				Grammar: pattern.grammar,
				Raw:     text[loc[0]:loc[1]],
				Start:   loc[0],
				End:     loc[1],
			})
		}
	}
	sort.SliceStable(markers, func(i, j int) bool { return markers[i].Start < markers[j].Start })
	return markers
}

// Strip removes every marker occurrence from the text.
//
// Used on the embedded-HTML path so generated visualization code is not
// handed foreign marker syntax it would choke on.
func Strip(text string) string {
	for _, pattern := range grammarPatterns {
		text = pattern.re.ReplaceAllString(text, "")
	}
	return text
}

// =============================================================================
// Keyed Index
// =============================================================================

// Index is the keyed secondary identity map over references.
//
// The wire protocol only supplies array position as a citation join key, so
// rendering stays positional; Index maintains the composite
// dataset/document/chunk key as the canonical identity for any
// cross-message lookup.
type Index struct {
	byKey map[string]agent.Reference
}

// NewIndex builds an index over the given references. Entries without any
// id component are skipped (no stable key exists for them).
func NewIndex(refs []agent.Reference) *Index {
	idx := &Index{byKey: make(map[string]agent.Reference, len(refs))}
	idx.Add(refs)
	return idx
}

// Add merges more references into the index. Later entries win on key
// collision, matching the replace-wholesale semantics of chunk frames.
func (idx *Index) Add(refs []agent.Reference) {
	for _, ref := range refs {
		if key := ref.Key(); key != "" {
			idx.byKey[key] = ref
		}
	}
}

// Lookup returns the reference stored under the composite key.
func (idx *Index) Lookup(key string) (agent.Reference, bool) {
	ref, ok := idx.byKey[key]
	return ref, ok
}

// Len returns the number of keyed entries.
func (idx *Index) Len() int { return len(idx.byKey) }

// =============================================================================
// Click Resolution
// =============================================================================

// ResolveClick re-looks-up a reference from a clicked marker's data
// attributes.
//
// The index attribute resolves positionally against whichever reference
// list is currently relevant; the caller picks the streaming list during a
// send and the owning message's stored list otherwise. The resolved
// reference is then augmented with the ids captured on the element. This is
// a lossy identity join: the element's ids win only where the positional
// reference has none.
func ResolveClick(attrs map[string]string, refs []agent.Reference) (agent.Reference, bool) {
	index, err := strconv.Atoi(attrs[AttrRefIndex])
	if err != nil || index < 0 || index >= len(refs) {
		return agent.Reference{}, false
	}

	ref := refs[index]
	if ref.DatasetID == "" {
		ref.DatasetID = attrs[AttrDatasetID]
	}
	if ref.DocumentID == "" {
		ref.DocumentID = attrs[AttrDocumentID]
	}
	if ref.ID == "" {
		ref.ID = attrs[AttrChunkID]
	}
	return ref, true
}
