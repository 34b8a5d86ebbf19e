package linkcheck

import (
	"fmt"
	"strings"
)

// ValidationErrorStream is the post-filtered view of a Validate() run:
// every invalid ValidationResult (terminal or, exceptionally, still
// carrying a retry marker because the run ended before it drained), with
// reducers for reporting and a ResourceResolver reference for pretty
// source-location printing.
type ValidationErrorStream struct {
	errors   []ValidationResult
	resolver ResourceResolver
}

func newValidationErrorStream(results []ValidationResult, resolver ResourceResolver) *ValidationErrorStream {
	errors := make([]ValidationResult, 0, len(results))
	for _, result := range results {
		if result.IsInvalid() {
			errors = append(errors, result)
		}
	}
	return &ValidationErrorStream{errors: errors, resolver: resolver}
}

// ToList materializes every invalid result.
func (stream *ValidationErrorStream) ToList() []ValidationResult {
	return append([]ValidationResult{}, stream.errors...)
}

// Count returns the number of invalid results.
func (stream *ValidationErrorStream) Count() int {
	return len(stream.errors)
}

// AssertValid returns an aggregate error describing every invalid result,
// or nil if there are none.
func (stream *ValidationErrorStream) AssertValid() error {
	if len(stream.errors) == 0 {
		return nil
	}
	lines := make([]string, 0, len(stream.errors))
	for _, result := range stream.errors {
		lines = append(lines, stream.formatLine(result))
	}
	return fmt.Errorf("link validation found %d error(s):\n%s", len(stream.errors), strings.Join(lines, "\n"))
}

// formatLine renders one invalid result as:
// "<resolvedUri>  [<statusCode>]  <message>  (from <sourceFile>:<sourceLine>)"
// omitting the trailing "(from ...)" clause when no source location is
// known.
func (stream *ValidationErrorStream) formatLine(result ValidationResult) string {
	link := result.Link()
	line := fmt.Sprintf("%s  [%d]  %s", link.ResolvedURI(), result.StatusCode(), result.Message())

	sourceFile := link.SourceFile()
	if sourceFile == "" && stream.resolver != nil {
		if resolved, ok := stream.resolver.ResolveSourcePath(link); ok {
			sourceFile = resolved
		}
	}
	if sourceFile != "" {
		line += fmt.Sprintf("  (from %s:%d)", sourceFile, link.SourceLine())
	}
	return line
}
