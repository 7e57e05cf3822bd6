// Package redact anonymizes names in extracted data. A Redactor hands out
// stable placeholder names so the same input always maps to the same
// placeholder within one run, keeping cross-references (branch names, repo
// names) consistent across output files.
package redact

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Redactor memoizes name replacements. Safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	redacted map[string]string
	seq      int
	preserve map[string]struct{}
}

// NewRedactor creates a Redactor. Names in preserve are passed through
// unchanged (for example "master" and "develop" branch names, which carry
// meaning downstream).
func NewRedactor(preserve ...string) *Redactor {
	p := make(map[string]struct{}, len(preserve))
	for _, name := range preserve {
		p[name] = struct{}{}
	}
	return &Redactor{
		redacted: make(map[string]string),
		preserve: p,
	}
}

// Redact returns the stable placeholder for name.
func (r *Redactor) Redact(name string) string {
	if name == "" {
		return name
	}
	if _, ok := r.preserve[name]; ok {
		return name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if placeholder, ok := r.redacted[name]; ok {
		return placeholder
	}
	placeholder := fmt.Sprintf("redacted-%04d", r.seq)
	r.seq++
	r.redacted[name] = placeholder
	return placeholder
}

// issueKeyRegex matches issue-tracker keys like ENG-123, eng_123, or
// "eng 123" embedded in free text.
var issueKeyRegex = regexp.MustCompile(`(?i)([a-z0-9]+)[-_/ ]?(\d+)`)

// SanitizeText strips free text down to the issue keys it mentions when
// strip is true; the keys are what downstream linking needs, the prose is
// what must not leave the premises. With strip false the text passes
// through.
func SanitizeText(text string, strip bool) string {
	if text == "" || !strip {
		return text
	}

	matches := issueKeyRegex.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToUpper(strings.TrimSpace(m[1])) + "-" + strings.TrimSpace(m[2])
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return strings.Join(keys, " ")
}
