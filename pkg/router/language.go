package router

import "strings"

// Stopword and greeting sets for the three supported user languages.
// Scoring by marker hits is crude but works at chat-message length, and
// one-word greetings must still score; English is the fallback when
// nothing scores.
var languageMarkers = map[string][]string{
	"it": {"il", "lo", "la", "che", "di", "per", "con", "una", "sono", "come", "quanto", "posso", "vorrei", "dove", "quale", "grazie", "ciao", "salve", "buongiorno", "buonasera", "prego"},
	"id": {"yang", "dan", "di", "untuk", "dengan", "saya", "apa", "bagaimana", "berapa", "bisa", "tidak", "ini", "itu", "ke", "dari", "mau", "halo", "terima", "kasih", "selamat", "tolong"},
	"en": {"the", "is", "are", "what", "how", "much", "can", "i", "to", "for", "with", "do", "need", "a", "an", "my", "hello", "hi", "thanks", "please"},
}

// DetectLanguage guesses the query language, returning an ISO 639-1 code.
func DetectLanguage(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return "en"
	}

	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:'\"()")] = true
	}

	best, bestScore := "en", 0
	for _, lang := range []string{"it", "id", "en"} {
		score := 0
		for _, marker := range languageMarkers[lang] {
			if set[marker] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = lang, score
		}
	}
	return best
}
