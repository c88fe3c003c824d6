package normalize

import (
	"regexp"
	"strings"
)

// Step transforms the working text. Steps never fail: when they do not apply
// they return the input unchanged.
type Step func(string) string

var (
	fenceRegex   = regexp.MustCompile("(?is)```(?:json)?[ \\t]*\\r?\\n(.*?)```")
	bracketRegex = regexp.MustCompile(`(?s)\[.*\]`)
)

// DefaultSteps is the extraction chain applied before parsing.
func DefaultSteps() []Step {
	return []Step{StripFence, ScanBrackets, StripBackticks}
}

// StripFence returns the trimmed interior of the first ``` or ```json block.
func StripFence(text string) string {
	m := fenceRegex.FindStringSubmatch(text)
	if len(m) < 2 || m[1] == "" {
		return text
	}
	return strings.TrimSpace(m[1])
}

// ScanBrackets keeps the span from the first '[' to the last ']' unless the
// text already starts with '['.
func ScanBrackets(text string) string {
	if strings.HasPrefix(strings.TrimSpace(text), "[") {
		return text
	}
	if m := bracketRegex.FindString(text); m != "" {
		return m
	}
	return text
}

// StripBackticks removes a single pair of wrapping backticks.
func StripBackticks(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 || trimmed[0] != '`' || trimmed[len(trimmed)-1] != '`' {
		return text
	}
	return trimmed[1 : len(trimmed)-1]
}
