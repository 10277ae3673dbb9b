package orchestrator

import (
	"fmt"
	"strings"

	"github.com/balizero/nuzantara/pkg/retrieval"
)

const defaultSystemPrompt = `You are Zantara, the assistant of Bali Zero. You help clients with %s.
Answer from the provided context and tool results only. If the context does not
contain the answer, say so plainly instead of guessing. Never claim to remember
something the user did not say in this conversation.`

var languageNames = map[string]string{
	"en": "English",
	"it": "Italian",
	"id": "Indonesian",
}

// buildSystemPrompt assembles persona, domain framing, the language
// directive, the memory preamble and the retrieved context block.
func (o *Orchestrator) buildSystemPrompt(language, preamble string, chunks []retrieval.Chunk) string {
	var b strings.Builder

	if o.cfg.SystemPrompt != "" {
		b.WriteString(o.cfg.SystemPrompt)
	} else {
		fmt.Fprintf(&b, defaultSystemPrompt, o.cfg.Domain)
	}
	b.WriteString("\n\n")

	if name, ok := languageNames[language]; ok {
		fmt.Fprintf(&b, "Answer in %s.\n", name)
	}
	b.WriteString("When describing a procedure, format the steps as a numbered list with at least two items.\n")

	if preamble != "" {
		b.WriteString("\n")
		b.WriteString(preamble)
	}

	if len(chunks) > 0 {
		b.WriteString("\nRetrieved context:\n")
		for i, c := range chunks {
			if i >= 8 {
				break
			}
			text := c.Content
			if c.Parent != nil && c.Parent.FullText != "" {
				text = c.Parent.FullText
			}
			if len(text) > 1200 {
				text = text[:1200]
			}
			title := c.Title
			if title == "" {
				title = c.ID
			}
			fmt.Fprintf(&b, "--- [%s] %s\n%s\n", c.Collection, title, text)
		}
	}

	return b.String()
}

// refusalMessage is the bounded out-of-domain response, in the detected
// language of the user's last message.
func (o *Orchestrator) refusalMessage(language string) string {
	switch language {
	case "it":
		return fmt.Sprintf("Non ho questa informazione. Posso aiutarti con %s.", o.cfg.Domain)
	case "id":
		return fmt.Sprintf("Saya tidak memiliki informasi itu. Saya bisa membantu dengan %s.", o.cfg.Domain)
	default:
		return fmt.Sprintf("I don't have that information — I can help with %s.", o.cfg.Domain)
	}
}

// greetingReply is the canned greeting fallback when the model is
// unavailable for a greeting-tier turn.
func greetingReply(language string) string {
	switch language {
	case "it":
		return "Ciao! Come posso aiutarti oggi?"
	case "id":
		return "Halo! Ada yang bisa saya bantu?"
	default:
		return "Hello! How can I help you today?"
	}
}
