package evidence

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/balizero/nuzantara/pkg/config"
)

// Redactor masks configured PII patterns. Patterns compile at boot; a bad
// pattern is a startup error, never a runtime one.
type Redactor struct {
	patterns    []*regexp.Regexp
	placeholder string
}

func NewRedactor(cfg *config.PIIConfig) (*Redactor, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PII pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Redactor{patterns: patterns, placeholder: cfg.RedactionPlaceholder}, nil
}

// Redact masks every PII match. Used for persisted and logged copies.
func (r *Redactor) Redact(text string) string {
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, r.placeholder)
	}
	return text
}

// RedactForUser masks PII except values belonging to the user themselves,
// so an answer can echo back the user's own phone number but never a
// third party's.
func (r *Redactor) RedactForUser(text string, ownValues []string) string {
	for _, re := range r.patterns {
		text = re.ReplaceAllStringFunc(text, func(match string) string {
			for _, own := range ownValues {
				if own != "" && strings.Contains(own, strings.TrimSpace(match)) {
					return match
				}
			}
			return r.placeholder
		})
	}
	return text
}
