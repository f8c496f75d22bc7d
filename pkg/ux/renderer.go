// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// This file renders answer plans to the terminal.
//
// Single Responsibility:
//
//	The renderer ONLY renders. Classification, validation, and citation
//	resolution already happened upstream; the plan arrives as data and is
//	displayed verbatim.
package ux

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"

	"ragcite/pkg/render"
)

// markerSpanRe matches the resolved citation span markup so the terminal
// can restyle it as a colored [n] badge.
var markerSpanRe = regexp.MustCompile(`<span class="citation-marker"[^>]*>(\[[^\]]*\])</span>`)

// PlanRenderer displays render.Plan values on a terminal.
//
// # Description
//
// Markdown segments go through glamour in full personality and are printed
// raw otherwise. Embedded HTML segments become a framed notice describing
// the sandbox decision; the terminal never executes the payload. The
// citation strip lists every marker found in the embedded segment with its
// resolved source.
type PlanRenderer struct {
	writer   io.Writer
	level    PersonalityLevel
	markdown *glamour.TermRenderer
}

// NewPlanRenderer creates a renderer for the given personality level.
//
// A glamour setup failure degrades to plain-text output rather than
// failing: the renderer is always usable.
func NewPlanRenderer(w io.Writer, level PersonalityLevel) *PlanRenderer {
	if w == nil {
		w = os.Stdout
	}
	r := &PlanRenderer{writer: w, level: level}
	if level == PersonalityFull {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			r.markdown = md
		}
	}
	return r
}

// RenderPlan writes one complete plan to the terminal.
func (r *PlanRenderer) RenderPlan(plan render.Plan) {
	if text := strings.TrimSpace(plan.Leading); text != "" {
		r.renderMarkdown(text)
	}
	if plan.Embed != nil {
		r.renderEmbed(plan.Embed)
	}
	if text := strings.TrimSpace(plan.Trailing); text != "" {
		r.renderMarkdown(text)
	}
	r.renderCitations(plan.Citations)
}

// renderMarkdown prints one Markdown segment, restyling resolved citation
// spans as colored badges first.
func (r *PlanRenderer) renderMarkdown(text string) {
	text = r.restyleMarkers(text)

	if r.level == PersonalityMachine {
		fmt.Fprintln(r.writer, text)
		return
	}
	if r.markdown != nil {
		if rendered, err := r.markdown.Render(text); err == nil {
			fmt.Fprint(r.writer, rendered)
			return
		}
	}
	fmt.Fprintln(r.writer, text)
}

func (r *PlanRenderer) restyleMarkers(text string) string {
	if r.level == PersonalityMachine {
		return markerSpanRe.ReplaceAllString(text, "$1")
	}
	return markerSpanRe.ReplaceAllStringFunc(text, func(match string) string {
		badge := markerSpanRe.FindStringSubmatch(match)[1]
		return Styles.Citation.Render(badge)
	})
}

// renderEmbed prints the sandbox decision for an embedded HTML segment.
func (r *PlanRenderer) renderEmbed(embed *render.Embed) {
	if r.level == PersonalityMachine {
		fmt.Fprintf(r.writer, "EMBED: state=%s valid=%t bytes=%d\n",
			embedStateName(embed.State), embed.Validation.IsValid, len(embed.HTML))
		for _, issue := range embed.Validation.Errors.All() {
			fmt.Fprintf(r.writer, "EMBED_ISSUE: %s\n", issue)
		}
		return
	}

	switch embed.State {
	case render.EmbedSandboxed:
		body := fmt.Sprintf("Generated visualization (%d bytes)\nSandbox: %s",
			len(embed.HTML), strings.Join(embed.Sandbox, " "))
		fmt.Fprintln(r.writer, Styles.EmbedBox.Render(Styles.Title.Render("Visualization")+"\n"+body))
	case render.EmbedDrawing:
		fmt.Fprintln(r.writer, Styles.Muted.Render("… drawing visualization …"))
	case render.EmbedInsufficient:
		issues := embed.Validation.Errors.All()
		body := "The generated visualization is incomplete."
		if len(issues) > 0 {
			shown := issues
			if len(shown) > 3 {
				shown = shown[:3]
			}
			body += "\n" + IconBullet.Render() + " " + strings.Join(shown, "\n"+IconBullet.Render()+" ")
		}
		if embed.FallbackRender {
			body += "\n" + Styles.Muted.Render("Rendering best-effort anyway.")
		}
		fmt.Fprintln(r.writer, Styles.WarningBox.Render(Styles.Warning.Bold(true).Render("Insufficient source")+"\n"+body))
	}
}

// renderCitations prints the citation summary strip.
func (r *PlanRenderer) renderCitations(entries []render.CitationEntry) {
	if len(entries) == 0 {
		return
	}
	if r.level == PersonalityMachine {
		for _, entry := range entries {
			if entry.Resolved {
				fmt.Fprintf(r.writer, "CITATION: index=%d source=%s\n", entry.Marker.Index, entry.Ref.DocumentName)
			} else {
				fmt.Fprintf(r.writer, "CITATION: index=%d unresolved\n", entry.Marker.Index)
			}
		}
		return
	}

	fmt.Fprintln(r.writer, Styles.Muted.Render("Sources:"))
	for _, entry := range entries {
		badge := Styles.Citation.Render(fmt.Sprintf("[%d]", entry.Marker.Index+1))
		if entry.Resolved {
			name := entry.Ref.DocumentName
			if name == "" {
				name = "(unnamed document)"
			}
			fmt.Fprintf(r.writer, "  %s %s\n", badge, name)
		} else {
			fmt.Fprintf(r.writer, "  %s %s\n", badge, Styles.Muted.Render("unresolved"))
		}
	}
}

func embedStateName(state render.EmbedState) string {
	switch state {
	case render.EmbedSandboxed:
		return "sandboxed"
	case render.EmbedDrawing:
		return "drawing"
	case render.EmbedInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// =============================================================================
// Streaming Display
// =============================================================================

// StreamDisplay shows in-flight answer content with replace semantics:
// each update supersedes the previous one on screen, mirroring how frames
// replace rather than append. Machine mode stays silent until the final
// answer is rendered as a plan.
type StreamDisplay struct {
	writer    io.Writer
	level     PersonalityLevel
	lastLines int
}

// NewStreamDisplay creates a display writing to w (stdout when nil).
func NewStreamDisplay(w io.Writer, level PersonalityLevel) *StreamDisplay {
	if w == nil {
		w = os.Stdout
	}
	return &StreamDisplay{writer: w, level: level}
}

// Update replaces the displayed content with the latest accumulated
// answer. Markers still appear raw here; resolution happens at final
// render.
func (d *StreamDisplay) Update(content string) {
	if d.level == PersonalityMachine {
		return
	}
	d.clear()
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	// Only the tail fits; a full redraw of long answers would flicker.
	const maxLines = 12
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for _, line := range lines {
		fmt.Fprintln(d.writer, Styles.Muted.Render(line))
	}
	d.lastLines = len(lines)
}

// Clear removes the in-flight display ahead of the final plan render.
func (d *StreamDisplay) Clear() {
	if d.level == PersonalityMachine {
		return
	}
	d.clear()
}

func (d *StreamDisplay) clear() {
	for i := 0; i < d.lastLines; i++ {
		fmt.Fprint(d.writer, "\033[1A\033[2K")
	}
	d.lastLines = 0
}
