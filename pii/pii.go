// Package pii implements the PII Redactor (C4): a fixed, ordered list of
// regex passes that strip common personally-identifying patterns out of
// text before it reaches an upstream model.
package pii

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`),
	regexp.MustCompile(`(?i)\b\+?\d{1,3}?[-.\s]??\(?\d{2,3}\)?[-.\s]??\d{3,4}[-.\s]??\d{4}\b`),
	regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Z][\w\s]{1,30}\s+(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|way)\b`),
	regexp.MustCompile(`\b[A-Z][a-z]{1,20}\s+[A-Z][a-z]{1,20}\b`),
}

const redacted = "[REDACTED]"

// Redact runs every pattern in order against text, each operating on the
// output of the one before it, and reports whether anything changed.
// Order matters: an email or phone number is stripped before the final
// two-capitalized-word pass would otherwise mistake a fragment of it for
// a person's name.
func Redact(text string) (string, bool) {
	current := text
	for _, re := range patterns {
		current = re.ReplaceAllString(current, redacted)
	}
	return current, current != text
}
