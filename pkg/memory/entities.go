package memory

import (
	"regexp"
	"strings"

	"github.com/balizero/nuzantara/pkg/protocol"
)

// Extractor pulls durable facts out of user turns. It is pattern based
// and deliberately conservative: a missed fact costs a follow-up question,
// a wrong fact pollutes every later turn.
type Extractor struct {
	patterns []entityPattern
}

type entityPattern struct {
	kind       protocol.EntityKind
	re         *regexp.Regexp
	confidence float64
}

const (
	budgetMagnitude = `(?:juta|miliar|ribu|milioni|miliardi|mila|[kKmM])`
	budgetCurrency  = `(?:Rp|IDR|USD|EUR|rupiah|dollars?|euros?)`
	budgetAmount    = `(?:(?:Rp|IDR|USD|EUR|\$|€)\s?[\d.,]+\s?` + budgetMagnitude + `?` +
		`|[\d.,]+\s?(?:` + budgetMagnitude + `\s?` + budgetCurrency + `?|` + budgetCurrency + `))`
)

// Statement patterns in the three supported user languages (English,
// Italian, Indonesian). Group 1 captures the value.
var defaultEntityPatterns = []entityPattern{
	// Names. The value must be capitalized so a trailing clause
	// ("my name is Marco and I live in...") does not bleed in.
	{protocol.EntityName, regexp.MustCompile(`(?i:\bmy name is )([A-Z][\p{L}'-]+(?: [A-Z][\p{L}'-]+)?)`), 0.9},
	{protocol.EntityName, regexp.MustCompile(`(?i:\bcall me )([A-Z][\p{L}'-]+)`), 0.8},
	{protocol.EntityName, regexp.MustCompile(`(?i:\bmi chiamo )([A-Z][\p{L}'-]+(?: [A-Z][\p{L}'-]+)?)`), 0.9},
	{protocol.EntityName, regexp.MustCompile(`(?i:\bnama saya )([A-Z][\p{L}'-]+(?: [A-Z][\p{L}'-]+)?)`), 0.9},

	// Locations
	{protocol.EntityLocation, regexp.MustCompile(`(?i)\bI (?:live|stay|am staying|am based) in ([\p{L}][\p{L} ]{1,30}?)[.,!?]?$`), 0.85},
	{protocol.EntityLocation, regexp.MustCompile(`(?i)\bI(?:'m| am) (?:now )?in ([\p{L}][\p{L} ]{1,30}?)(?: now)?[.,!?]?$`), 0.7},
	{protocol.EntityLocation, regexp.MustCompile(`(?i)\bmoving to ([\p{L}][\p{L} ]{1,30}?)[.,!?]?$`), 0.8},
	{protocol.EntityLocation, regexp.MustCompile(`(?i)\b(?:vivo|abito|mi trovo) a ([\p{L}][\p{L} ]{1,30}?)[.,!?]?$`), 0.85},
	{protocol.EntityLocation, regexp.MustCompile(`(?i)\bsaya tinggal di ([\p{L}][\p{L} ]{1,30}?)[.,!?]?$`), 0.85},

	// Budgets. Amounts come currency-first ("IDR 50,000,000") or
	// amount-first with a magnitude word and/or trailing currency
	// ("50 milioni IDR", "500 juta").
	{protocol.EntityBudget, regexp.MustCompile(`(?i)\bbudget (?:of |di |is |e |è |saya |adalah )?(?:about |around |circa |sekitar )?(` + budgetAmount + `)`), 0.85},
	{protocol.EntityBudget, regexp.MustCompile(`(?i)\bI have (` + budgetAmount + `)`), 0.7},

	// Professions
	{protocol.EntityProfession, regexp.MustCompile(`(?i)\bI (?:work|am working) as an? ([\p{L}][\p{L} ]{1,30}?)[.,!?]?$`), 0.85},
	{protocol.EntityProfession, regexp.MustCompile(`(?i)\bI(?:'m| am) an? ([\p{L}][\p{L} ]{1,30}?) by (?:trade|profession)\b`), 0.85},
	{protocol.EntityProfession, regexp.MustCompile(`(?i)\blavoro come ([\p{L}][\p{L} ]{1,30}?)[.,!?]?$`), 0.85},
	{protocol.EntityProfession, regexp.MustCompile(`(?i)\bsaya bekerja sebagai ([\p{L}][\p{L} ]{1,30}?)[.,!?]?$`), 0.85},

	// Language preference
	{protocol.EntityPreferredLanguage, regexp.MustCompile(`(?i)\b(?:please )?(?:answer|reply|respond|parla|rispondi|jawab) (?:me )?in (english|italian|italiano|indonesian|bahasa(?: indonesia)?)\b`), 0.9},

	// Business intent
	{protocol.EntityBusinessIntent, regexp.MustCompile(`(?i)\b(?:I want to|I plan to|planning to|voglio|vorrei|saya ingin|saya mau) (open|start|set up|buy|aprire|avviare|membuka|mendirikan) (?:an? |un |una |sebuah )?([\p{L}][\p{L} ]{1,40}?)[.,!?]?$`), 0.8},
}

var expertiseBeginnerRe = regexp.MustCompile(`(?i)\b(first time|new to this|never done|non so (?:nulla|niente)|sono alle prime armi|baru pertama kali|belum pernah)\b`)
var expertiseExperiencedRe = regexp.MustCompile(`(?i)\b(done this before|I already have a (?:visa|company|kitas)|ho già|sudah pernah)\b`)

func NewExtractor() *Extractor {
	return &Extractor{patterns: defaultEntityPatterns}
}

// Extract returns the entities found in one user turn, stamped with the
// turn index. The newest-wins merge happens at persistence time.
func (x *Extractor) Extract(text string, turnIndex int) []protocol.Entity {
	var entities []protocol.Entity
	seen := make(map[protocol.EntityKind]bool)

	for _, p := range x.patterns {
		if seen[p.kind] {
			continue
		}
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		value := strings.TrimSpace(m[len(m)-1])
		if p.kind == protocol.EntityBusinessIntent && len(m) >= 3 {
			value = strings.TrimSpace(m[1] + " " + m[len(m)-1])
		}
		if value == "" {
			continue
		}

		entities = append(entities, protocol.Entity{
			Kind:       p.kind,
			Value:      value,
			Confidence: p.confidence,
			TurnIndex:  turnIndex,
		})
		seen[p.kind] = true
	}

	if expertiseBeginnerRe.MatchString(text) {
		entities = append(entities, protocol.Entity{
			Kind: protocol.EntityExpertiseLevel, Value: "beginner", Confidence: 0.7, TurnIndex: turnIndex,
		})
	} else if expertiseExperiencedRe.MatchString(text) {
		entities = append(entities, protocol.Entity{
			Kind: protocol.EntityExpertiseLevel, Value: "experienced", Confidence: 0.7, TurnIndex: turnIndex,
		})
	}

	return entities
}
