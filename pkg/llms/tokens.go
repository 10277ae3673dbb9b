package llms

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/balizero/nuzantara/pkg/protocol"
)

// Budgeter counts tokens and trims history to a provider's context window.
// cl100k_base is close enough across the supported model families for
// budgeting purposes.
type Budgeter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewBudgeter returns a budgeter. The encoding loads lazily on first count
// so construction never touches the network.
func NewBudgeter() *Budgeter {
	return &Budgeter{}
}

// encoding resolves cl100k_base on first use. tiktoken fetches the BPE
// ranks remotely unless a local cache exists; when the load fails the
// budgeter stays on a bytes-per-token approximation, which is plenty for
// trimming decisions.
func (b *Budgeter) encoding() *tiktoken.Tiktoken {
	b.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			b.enc = enc
		}
	})
	return b.enc
}

// Count returns the token count of a text.
func (b *Budgeter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := b.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// English prose averages about four bytes per token.
	return (len(text) + 3) / 4
}

// CountMessage counts a message including a small per-message overhead for
// role framing.
func (b *Budgeter) CountMessage(msg protocol.Message) int {
	const perMessageOverhead = 4
	n := b.Count(msg.Content) + perMessageOverhead
	if msg.ToolResult != "" {
		n += b.Count(msg.ToolResult)
	}
	return n
}

// Fit drops the oldest messages until system prompt, history and reserved
// output tokens fit the context window. The newest message is always kept.
func (b *Budgeter) Fit(system string, messages []protocol.Message, contextWindow, reservedOutput int) []protocol.Message {
	if len(messages) == 0 {
		return messages
	}

	budget := contextWindow - reservedOutput - b.Count(system)
	if budget <= 0 {
		return messages[len(messages)-1:]
	}

	total := 0
	counts := make([]int, len(messages))
	for i, msg := range messages {
		counts[i] = b.CountMessage(msg)
		total += counts[i]
	}

	start := 0
	for start < len(messages)-1 && total > budget {
		total -= counts[start]
		start++
	}

	return messages[start:]
}
