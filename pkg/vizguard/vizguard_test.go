// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package vizguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validDocument is a complete chart document that passes every category.
const validDocument = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<script src="https://d3js.org/d3.v7.min.js"></script>
</head>
<body>
<div id="chart"></div>
<svg id="canvas"></svg>
<script>
const width = 500;
const height = 300;
const data = [4, 8, 15];
const svg = d3.select("#chart")
  .append("svg")
  .attr("width", width)
  .attr("height", height);
svg.selectAll("rect")
  .data(data)
  .enter()
  .append("rect")
  .attr("x", 10)
  .attr("y", 20)
  .attr("width", 30)
  .attr("height", 40);
</script>
</body>
</html>`

func TestValidateCompleteDocumentPasses(t *testing.T) {
	result := Validate(validDocument)
	assert.True(t, result.IsValid, "findings: %v", result.Errors.All())
	assert.Empty(t, result.Errors.All())
}

func TestValidateDeterministic(t *testing.T) {
	first := Validate(validDocument)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Validate(validDocument))
	}
}

func TestValidateMissingDoctype(t *testing.T) {
	doc := strings.Replace(validDocument, "<!DOCTYPE html>\n", "", 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors.Structure)
	assert.Contains(t, result.Errors.Structure[0], "document wrapper")
}

func TestValidateMissingCharset(t *testing.T) {
	doc := strings.Replace(validDocument, `<meta charset="utf-8">`, "", 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Structure, " "), "charset")
}

func TestValidateMissingD3Import(t *testing.T) {
	doc := strings.Replace(validDocument,
		`<script src="https://d3js.org/d3.v7.min.js"></script>`, "", 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Structure, " "), "D3 library")
}

func TestValidateMissingSVG(t *testing.T) {
	doc := strings.Replace(validDocument, `<svg id="canvas"></svg>`, "", 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Content, " "), "SVG")
}

func TestValidateLegacyVarDeclaration(t *testing.T) {
	doc := strings.Replace(validDocument, "const width = 500;", "var width = 500;", 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Quality, " "), "var")
}

func TestValidateEntityEscapedCode(t *testing.T) {
	doc := strings.Replace(validDocument, "const data = [4, 8, 15];",
		"const data = [4, 8, 15];\nif (width &gt; 100) {}", 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Quality, " "), "entity")
}

func TestValidateMethodTypo(t *testing.T) {
	doc := strings.Replace(validDocument, `.attr("x", 10)`, `.atr("x", 10)`, 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Quality, " "), "typo")
}

func TestValidateUnclosedFunction(t *testing.T) {
	doc := strings.Replace(validDocument, "const data = [4, 8, 15];",
		"const data = [4, 8, 15];\nfunction draw() { svg.append(\"g\");", 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Quality, " "), "never closed")
}

func TestValidateUndeclaredIdentifier(t *testing.T) {
	doc := strings.Replace(validDocument,
		`.attr("height", height);`,
		`.attr("height", height)
  .attr("transform", "translate(" + margin + ",0)");`, 1)
	// margin appears outside any string literal only via concatenation
	doc = strings.Replace(doc, `"translate(" + margin + ",0)"`, `"translate(" + margin`, 1)
	result := Validate(doc)
	assert.False(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Errors.Variables, " "), "margin")
}

func TestValidateStringLiteralsDoNotCountAsUses(t *testing.T) {
	// "#chart" references the chart id inside a string; the identifier
	// chart is never used as code and must not be flagged.
	result := Validate(validDocument)
	for _, finding := range result.Errors.Variables {
		assert.NotContains(t, finding, "chart")
		assert.NotContains(t, finding, "svg")
	}
}

func TestPreprocessStripsExtensionArtifacts(t *testing.T) {
	doc := strings.Replace(validDocument, "<body>",
		`<body data-new-gr-c-s-check-loaded="14.1" data-gr-ext-installed>
<grammarly-desktop-integration>noise</grammarly-desktop-integration>`, 1)
	result := Validate(doc)
	assert.True(t, result.IsValid, "findings: %v", result.Errors.All())
}

func TestPreprocessStripsHTMLComments(t *testing.T) {
	doc := strings.Replace(validDocument, "<div id=\"chart\"></div>",
		"<!-- generated chart container -->\n<div id=\"chart\"></div>", 1)
	result := Validate(doc)
	assert.True(t, result.IsValid)

	// A comment must not satisfy a predicate either.
	commentOnly := strings.Replace(validDocument, `<svg id="canvas"></svg>`, `<!-- <svg> -->`, 1)
	assert.False(t, Validate(commentOnly).IsValid)
}

func TestValidationErrorsAll(t *testing.T) {
	errs := ValidationErrors{
		Structure: []string{"s1"},
		Quality:   []string{"q1", "q2"},
	}
	assert.Equal(t, []string{"s1", "q1", "q2"}, errs.All())
	assert.Empty(t, ValidationErrors{}.All())
}
