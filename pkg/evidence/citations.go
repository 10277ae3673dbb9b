package evidence

import (
	"regexp"
	"strings"

	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/retrieval"
)

// Sentences shorter than this are greetings and connectives, not claims.
const minClaimLength = 30

// bindOverlapThreshold is the fraction of a sentence's significant words
// that must appear in a chunk for the sentence to bind to it.
const bindOverlapThreshold = 0.5

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+|\n+`)

// BindCitations maps claim-like sentences in the answer onto the retrieved
// chunks by word overlap. Chunks are cited at most once; order follows
// retrieval rank.
func BindCitations(answer string, chunks []retrieval.Chunk) []protocol.Citation {
	if len(chunks) == 0 || answer == "" {
		return nil
	}

	chunkWords := make([]map[string]bool, len(chunks))
	for i, c := range chunks {
		text := c.Content
		if c.Parent != nil {
			text += " " + c.Parent.FullText
		}
		chunkWords[i] = wordSet(text)
	}

	cited := make(map[int]bool)
	for _, sentence := range sentenceSplitRe.Split(answer, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < minClaimLength {
			continue
		}
		words := significantWords(sentence)
		if len(words) == 0 {
			continue
		}

		best, bestRatio := -1, 0.0
		for i := range chunks {
			hits := 0
			for _, w := range words {
				if chunkWords[i][w] {
					hits++
				}
			}
			ratio := float64(hits) / float64(len(words))
			if ratio > bestRatio {
				best, bestRatio = i, ratio
			}
		}
		if best >= 0 && bestRatio >= bindOverlapThreshold {
			cited[best] = true
		}
	}

	var citations []protocol.Citation
	for i, c := range chunks {
		if !cited[i] {
			continue
		}
		title := c.Title
		if title == "" && c.Parent != nil {
			title = c.Parent.Title
		}
		excerpt := c.Content
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		citations = append(citations, protocol.Citation{
			ID:       c.ID,
			Title:    title,
			Excerpt:  excerpt,
			ParentID: c.ParentID,
		})
	}
	return citations
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "for": true, "with": true, "is": true, "are": true,
	"you": true, "your": true, "this": true, "that": true, "it": true,
	"on": true, "be": true, "as": true, "at": true, "by": true, "can": true,
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		set[w] = true
	}
	return set
}

func significantWords(sentence string) []string {
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(sentence), -1) {
		if len(w) > 2 && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}
