package evidence

import (
	"regexp"
	"strings"

	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/retrieval"
)

var hedgeRe = regexp.MustCompile(`(?i)\b(probably|might be|i (think|believe|assume|guess)|not (entirely )?sure|as far as i know|if i recall|presumably|forse|mungkin)\b`)

// Score computes the bounded verification score for a turn: citation
// coverage weighted with retrieval strength, penalized for hedging and
// degraded pipeline stages.
func Score(answer string, citations []protocol.Citation, chunks []retrieval.Chunk, degraded, capReached bool) float64 {
	if answer == "" {
		return 0
	}

	// Citation coverage: how much of the retrieved evidence backs the
	// answer. No citations means an unverified answer, not a wrong one.
	coverage := 0.0
	if len(chunks) > 0 {
		coverage = float64(len(citations)) / float64(min(len(chunks), 5))
		if coverage > 1 {
			coverage = 1
		}
	}

	// Retrieval strength: the best vector score among cited chunks.
	strength := 0.0
	if len(citations) > 0 {
		cited := make(map[string]bool, len(citations))
		for _, c := range citations {
			cited[c.ID] = true
		}
		for _, c := range chunks {
			if cited[c.ID] && float64(c.Score) > strength {
				strength = float64(c.Score)
			}
		}
	}

	score := 0.3 + 0.4*coverage + 0.3*strength

	if hedgeRe.MatchString(answer) {
		score -= 0.15
	}
	if degraded {
		score -= 0.2
	}
	if capReached {
		score -= 0.2
	}
	if len(citations) == 0 {
		score -= 0.2
	}

	return clamp01(score)
}

// LowerForCache marks a cache-served score; a cached answer was verified
// at production time, not for this exact request.
func LowerForCache(score float64) float64 {
	return clamp01(score * 0.95)
}

// LowerForDegradedMemory marks an answer whose turn could not be written
// to conversation memory; later turns will be missing this context.
func LowerForDegradedMemory(score float64) float64 {
	return clamp01(score * 0.8)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HasNumberedList reports whether the answer contains a numbered list of
// at least two items, required for procedural answers.
func HasNumberedList(answer string) bool {
	count := 0
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 2 && trimmed[0] >= '1' && trimmed[0] <= '9' && (trimmed[1] == '.' || trimmed[1] == ')') {
			count++
		}
	}
	return count >= 2
}
