package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/llms"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// Generator is the slice of the LLM gateway the summarizer uses.
type Generator interface {
	Generate(ctx context.Context, modelTier string, req llms.Request) (string, []*protocol.ToolCall, int, error)
}

const summarySystemPrompt = `Condense the conversation below into at most five short sentences of durable facts: who the user is, what they want, decisions made and amounts quoted. Write in the third person. Do not add anything that is not in the conversation.`

// Summarizer refreshes the stored session summary once the conversation
// grows past the configured trigger. It runs off the turn's critical path;
// the summary it writes feeds the next turn's preamble.
type Summarizer struct {
	svc       SessionService
	gen       Generator
	trigger   int
	modelTier string
	logger    *slog.Logger
}

func NewSummarizer(svc SessionService, gen Generator, cfg *config.MemoryConfig, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		svc:       svc,
		gen:       gen,
		trigger:   cfg.SummarizationTrigger,
		modelTier: "fast",
		logger:    logger,
	}
}

// MaybeSummarize writes a fresh summary when the session has grown past
// the trigger. The first pass runs at the trigger; afterwards the summary
// is refreshed every ten messages. Failures only log; the next turn
// retries.
func (s *Summarizer) MaybeSummarize(ctx context.Context, sessionID string) {
	count, err := s.svc.MessageCount(ctx, sessionID)
	if err != nil || count < s.trigger {
		return
	}
	existing, err := s.svc.GetSummary(ctx, sessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "Summary read failed", "session_id", sessionID, "error", err)
		return
	}
	if existing != "" && count%10 != 0 {
		return
	}

	messages, err := s.svc.GetMessages(ctx, sessionID, 0)
	if err != nil {
		s.logger.WarnContext(ctx, "History read failed for summarization", "session_id", sessionID, "error", err)
		return
	}

	text, _, _, err := s.gen.Generate(ctx, s.modelTier, llms.Request{
		System:   summarySystemPrompt,
		Messages: messages,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.WarnContext(ctx, "Summarization failed", "session_id", sessionID, "error", err)
		return
	}

	if err := s.svc.SetSummary(ctx, sessionID, strings.TrimSpace(text)); err != nil {
		s.logger.WarnContext(ctx, "Summary write failed", "session_id", sessionID, "error", err)
	}
}
