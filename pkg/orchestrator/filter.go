package orchestrator

import (
	"regexp"
	"strings"

	"github.com/balizero/nuzantara/pkg/config"
)

// Built-in reasoning-leak patterns, matched per line. Config patterns are
// appended to these.
var builtinLeakPatterns = []string{
	`^Thought:`,
	`^Observation:`,
	`^Action:`,
	`^Okay, (since|with|given|without|lacking)\b`,
	`^Zantara has provided the final answer\.?$`,
}

// leakFilter strips lines of internal reasoning that models sometimes
// leak into the final answer.
type leakFilter struct {
	patterns []*regexp.Regexp
}

func newLeakFilter(cfg *config.OrchestratorConfig) (*leakFilter, error) {
	raw := append([]string{}, builtinLeakPatterns...)
	raw = append(raw, cfg.ReasoningLeakPatterns...)

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return &leakFilter{patterns: patterns}, nil
}

// filterLine returns the line with leaks removed, or "" when the whole
// line is internal reasoning.
func (f *leakFilter) filterLine(line string) string {
	trimmed := strings.TrimSpace(line)
	for _, re := range f.patterns {
		if re.MatchString(trimmed) {
			return ""
		}
	}
	return line
}

// filter strips leaking lines from a complete answer.
func (f *leakFilter) filter(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if f.filterLine(line) != "" || strings.TrimSpace(line) == "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// lineStreamFilter applies the leak filter to a stream of text fragments,
// releasing only completed, filtered lines. Call flush at end-of-stream
// for the unterminated tail.
type lineStreamFilter struct {
	filter *leakFilter
	buf    strings.Builder
}

func newLineStreamFilter(f *leakFilter) *lineStreamFilter {
	return &lineStreamFilter{filter: f}
}

func (s *lineStreamFilter) push(fragment string) string {
	s.buf.WriteString(fragment)
	if !strings.Contains(s.buf.String(), "\n") {
		return ""
	}

	content := s.buf.String()
	lastNewline := strings.LastIndex(content, "\n")
	complete, rest := content[:lastNewline+1], content[lastNewline+1:]
	s.buf.Reset()
	s.buf.WriteString(rest)

	var out strings.Builder
	for _, line := range strings.SplitAfter(complete, "\n") {
		if line == "" {
			continue
		}
		bare := strings.TrimSuffix(line, "\n")
		if s.filter.filterLine(bare) != "" || strings.TrimSpace(bare) == "" {
			out.WriteString(line)
		}
	}
	return out.String()
}

func (s *lineStreamFilter) flush() string {
	tail := s.buf.String()
	s.buf.Reset()
	if tail == "" {
		return ""
	}
	if s.filter.filterLine(tail) == "" {
		return ""
	}
	return tail
}
