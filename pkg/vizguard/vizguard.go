// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package vizguard statically inspects generated visualization HTML.
//
// The remote agent sometimes answers with a complete HTML document holding
// a D3 chart. Before such a payload is allowed into a sandboxed embed it
// passes through Validate, a pure function running tiered regex heuristics
// over the cleaned text. This is explicitly a lightweight quality gate, not
// a security boundary (the sandbox is); every predicate is a named function
// so individual heuristics can later be swapped for a real parser without
// changing the category/error-reporting contract.
package vizguard

import (
	"regexp"
	"strings"
)

// ValidationErrors groups findings by check category. A category's slice is
// nil when every predicate in it passed.
type ValidationErrors struct {
	Structure []string `json:"structure,omitempty"`
	Content   []string `json:"content,omitempty"`
	D3        []string `json:"d3,omitempty"`
	Quality   []string `json:"quality,omitempty"`
	Variables []string `json:"variables,omitempty"`
}

// All flattens the findings into one slice, category order preserved.
func (e ValidationErrors) All() []string {
	var all []string
	all = append(all, e.Structure...)
	all = append(all, e.Content...)
	all = append(all, e.D3...)
	all = append(all, e.Quality...)
	all = append(all, e.Variables...)
	return all
}

// ValidationResult is the outcome of one Validate call. Valid iff no
// category produced any finding. Findings are not errors in the Go sense;
// callers route them into a degraded-rendering decision.
type ValidationResult struct {
	IsValid bool             `json:"isValid"`
	Errors  ValidationErrors `json:"errors"`
}

// Validate inspects an HTML payload and reports per-category findings.
//
// Deterministic: the same input always yields the same result. The input
// is preprocessed first (browser-extension artifacts and HTML comments
// stripped) so third-party DOM mutations do not cause false negatives.
func Validate(htmlText string) ValidationResult {
	cleaned := Preprocess(htmlText)
	script := scriptCode(cleaned)

	errs := ValidationErrors{
		Structure: checkStructure(cleaned),
		Content:   checkContent(cleaned),
		D3:        checkD3(cleaned),
		Quality:   checkQuality(script),
		Variables: checkVariables(script),
	}

	valid := len(errs.Structure) == 0 &&
		len(errs.Content) == 0 &&
		len(errs.D3) == 0 &&
		len(errs.Quality) == 0 &&
		len(errs.Variables) == 0

	return ValidationResult{IsValid: valid, Errors: errs}
}

// =============================================================================
// Preprocessing
// =============================================================================

var (
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)

	// Known browser-extension injections. Grammarly and friends rewrite
	// the DOM before the payload reaches us; their leftovers must not fail
	// an otherwise valid document.
	extensionScriptRe = regexp.MustCompile(`(?is)<script[^>]*(?:chrome-extension://|moz-extension://|grammarly|adblock)[^>]*>.*?</script>`)
	extensionTagRe    = regexp.MustCompile(`(?is)<grammarly-[a-z-]+>.*?</grammarly-[a-z-]+>`)
	extensionAttrRe   = regexp.MustCompile(`\s(?:data-new-gr-c-s-check-loaded|data-gr-ext-installed|data-grammarly-shadow-root)(?:="[^"]*")?`)
)

// Preprocess strips extension-injected artifacts and HTML comments before
// analysis.
func Preprocess(htmlText string) string {
	htmlText = extensionScriptRe.ReplaceAllString(htmlText, "")
	htmlText = extensionTagRe.ReplaceAllString(htmlText, "")
	htmlText = extensionAttrRe.ReplaceAllString(htmlText, "")
	htmlText = htmlCommentRe.ReplaceAllString(htmlText, "")
	return htmlText
}

var inlineScriptRe = regexp.MustCompile(`(?is)<script(?:\s[^>]*)?>(.*?)</script>`)

// scriptCode concatenates the contents of every inline script block. Code
// quality and variable checks run over script code only, so markup (an
// <svg> tag, say) is never mistaken for an identifier.
func scriptCode(htmlText string) string {
	var code strings.Builder
	for _, match := range inlineScriptRe.FindAllStringSubmatch(htmlText, -1) {
		code.WriteString(match[1])
		code.WriteString("\n")
	}
	return code.String()
}

// stringLiteralRe matches single- and double-quoted JS string literals and
// template literals, so identifier scans skip text like "#chart".
var stringLiteralRe = regexp.MustCompile("\"(?:[^\"\\\\]|\\\\.)*\"|'(?:[^'\\\\]|\\\\.)*'|`(?:[^`\\\\]|\\\\.)*`")

func stripStringLiterals(code string) string {
	return stringLiteralRe.ReplaceAllString(code, "")
}

// =============================================================================
// Structure Checks
// =============================================================================

var (
	doctypeRe   = regexp.MustCompile(`(?i)<!DOCTYPE\s+html\s*>`)
	htmlOpenRe  = regexp.MustCompile(`(?i)<html[\s>]`)
	htmlCloseRe = regexp.MustCompile(`(?i)</html>`)
	headRe      = regexp.MustCompile(`(?is)<head[\s>].*</head>`)
	bodyRe      = regexp.MustCompile(`(?is)<body[\s>].*</body>`)
	charsetRe   = regexp.MustCompile(`(?i)<meta[^>]*charset\s*=\s*["']?utf-8`)
	d3ScriptRe  = regexp.MustCompile(`(?i)<script[^>]*src\s*=\s*["'][^"']*d3[^"']*["']`)
)

func checkStructure(htmlText string) []string {
	var errs []string
	if !hasDocumentWrapper(htmlText) {
		errs = append(errs, "missing <!DOCTYPE html><html>...</html> document wrapper")
	}
	if !hasHeadAndBody(htmlText) {
		errs = append(errs, "missing <head> or <body> section")
	}
	if !hasUTF8Charset(htmlText) {
		errs = append(errs, "missing UTF-8 charset meta tag")
	}
	if !hasD3Import(htmlText) {
		errs = append(errs, "missing D3 library script import")
	}
	return errs
}

func hasDocumentWrapper(htmlText string) bool {
	return doctypeRe.MatchString(htmlText) &&
		htmlOpenRe.MatchString(htmlText) &&
		htmlCloseRe.MatchString(htmlText)
}

func hasHeadAndBody(htmlText string) bool {
	return headRe.MatchString(htmlText) && bodyRe.MatchString(htmlText)
}

func hasUTF8Charset(htmlText string) bool {
	return charsetRe.MatchString(htmlText)
}

func hasD3Import(htmlText string) bool {
	return d3ScriptRe.MatchString(htmlText)
}

// =============================================================================
// Content Checks
// =============================================================================

var (
	containerIDRe = regexp.MustCompile(`(?i)<[a-z][a-z0-9]*[^>]*\sid\s*=\s*["'][^"']+["']`)
	svgRe         = regexp.MustCompile(`(?i)<svg[\s>]`)
)

func checkContent(htmlText string) []string {
	var errs []string
	if !hasContainerWithID(htmlText) {
		errs = append(errs, "no container element with an id attribute")
	}
	if !hasSVGElement(htmlText) {
		errs = append(errs, "no SVG element present")
	}
	return errs
}

func hasContainerWithID(htmlText string) bool {
	return containerIDRe.MatchString(htmlText)
}

func hasSVGElement(htmlText string) bool {
	return svgRe.MatchString(htmlText)
}

// =============================================================================
// D3 Checks
// =============================================================================

var (
	d3SelectIDRe  = regexp.MustCompile(`d3\s*\.\s*select\s*\(\s*["']#`)
	attrWidthRe   = regexp.MustCompile(`\.attr\s*\(\s*["']width["']`)
	attrHeightRe  = regexp.MustCompile(`\.attr\s*\(\s*["']height["']`)
	attrDrawingRe = regexp.MustCompile(`\.attr\s*\(\s*["'](?:x|y|width|height|r|d)["']`)
)

func checkD3(htmlText string) []string {
	var errs []string
	if !hasD3IDSelector(htmlText) {
		errs = append(errs, "no d3.select call against an id selector")
	}
	if !hasDimensionAttrs(htmlText) {
		errs = append(errs, "missing explicit width/height attribute calls")
	}
	if !hasDrawingAttr(htmlText) {
		errs = append(errs, "no chart-drawing attribute (x/y/width/height/r/d) is set")
	}
	return errs
}

func hasD3IDSelector(htmlText string) bool {
	return d3SelectIDRe.MatchString(htmlText)
}

func hasDimensionAttrs(htmlText string) bool {
	return attrWidthRe.MatchString(htmlText) && attrHeightRe.MatchString(htmlText)
}

func hasDrawingAttr(htmlText string) bool {
	return attrDrawingRe.MatchString(htmlText)
}

// =============================================================================
// Quality Checks
// =============================================================================

var (
	varDeclRe    = regexp.MustCompile(`\bvar\s+[A-Za-z_$]`)
	modernDeclRe = regexp.MustCompile(`\b(?:const|let)\s+[A-Za-z_$]`)

	// Signatures of code the generator is known to mangle: broken method
	// chains, HTML-entity-escaped operators leaking into script text, and
	// typos in common D3 method names.
	brokenChainRe = regexp.MustCompile(`\.\s*attr\s*\(\s*\.`)
	entityCodeRe  = regexp.MustCompile(`&(?:quot|lt|gt|amp);`)
	methodTypoRe  = regexp.MustCompile(`\.(?:atr|appnd|appedn|selct|styl)\s*\(`)
)

func checkQuality(script string) []string {
	var errs []string
	if hasLegacyVarDecl(script) {
		errs = append(errs, "legacy var declaration used")
	}
	if !hasModernDecl(script) {
		errs = append(errs, "no const/let declaration present")
	}
	if hasBrokenChain(script) {
		errs = append(errs, "malformed method chain detected")
	}
	if hasEntityEscapedCode(script) {
		errs = append(errs, "HTML-entity-escaped code inside script")
	}
	if hasMethodTypo(script) {
		errs = append(errs, "typo in common method name")
	}
	if hasUnclosedFunction(script) {
		errs = append(errs, "function opened but never closed")
	}
	return errs
}

func hasLegacyVarDecl(script string) bool {
	return varDeclRe.MatchString(stripStringLiterals(script))
}

func hasModernDecl(script string) bool {
	return modernDeclRe.MatchString(stripStringLiterals(script))
}

func hasBrokenChain(script string) bool {
	return brokenChainRe.MatchString(script)
}

func hasEntityEscapedCode(script string) bool {
	return entityCodeRe.MatchString(stripStringLiterals(script))
}

func hasMethodTypo(script string) bool {
	return methodTypoRe.MatchString(script)
}

func hasUnclosedFunction(script string) bool {
	code := stripStringLiterals(script)
	if !strings.Contains(code, "function") && !strings.Contains(code, "=>") {
		return false
	}
	return strings.Count(code, "{") > strings.Count(code, "}")
}

// =============================================================================
// Variable Checks
// =============================================================================

// commonChartIdentifiers is the fixed identifier set the lexical heuristic
// watches: dimension, margin, data and selection names that generated chart
// code conventionally uses. Single-letter names are deliberately excluded;
// they are too noisy for a word-boundary scan.
var commonChartIdentifiers = []string{
	"width", "height", "margin",
	"innerWidth", "innerHeight",
	"svg", "chart", "data",
	"xScale", "yScale", "tooltip",
}

var declStatementRe = regexp.MustCompile(`\b(?:const|let)\s+([^=;\n]+)`)

// checkVariables flags identifiers used in script code but never declared
// via const/let. This is a lexical heuristic, not scope analysis: string
// literals are stripped first so "#chart" does not count as a use of chart,
// but function parameters are not recognized as declarations.
func checkVariables(script string) []string {
	code := stripStringLiterals(script)
	declared := declaredIdentifiers(code)

	var errs []string
	for _, name := range commonChartIdentifiers {
		if isIdentifierUsed(code, name) && !declared[name] {
			errs = append(errs, "identifier used but never declared: "+name)
		}
	}
	return errs
}

func declaredIdentifiers(code string) map[string]bool {
	declared := make(map[string]bool)
	wordRe := regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)
	for _, match := range declStatementRe.FindAllStringSubmatch(code, -1) {
		for _, word := range wordRe.FindAllString(match[1], -1) {
			declared[word] = true
		}
	}
	return declared
}

func isIdentifierUsed(code, name string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
	return re.MatchString(code)
}
