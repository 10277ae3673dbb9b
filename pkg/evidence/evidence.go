// Package evidence turns a finalized answer into a verified, citable,
// redacted result: citation binding, format enforcement, PII redaction
// and verification scoring. The pipeline degrades, it does not fail; the
// single exception is redaction, which must succeed before persistence.
package evidence

import (
	"context"
	"log/slog"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/retrieval"
)

// Pipeline runs the post-answer stages.
type Pipeline struct {
	redactor  *Redactor
	templates []FormatTemplate
	logger    *slog.Logger
}

func NewPipeline(piiCfg *config.PIIConfig, logger *slog.Logger) (*Pipeline, error) {
	redactor, err := NewRedactor(piiCfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		redactor:  redactor,
		templates: defaultTemplates,
		logger:    logger,
	}, nil
}

// Input carries everything the pipeline needs about the finished turn.
type Input struct {
	Query  string
	Answer string
	Chunks []retrieval.Chunk

	// Degraded marks that retrieval or reranking partially failed.
	Degraded bool
	// CapReached marks that the answer was finalized because the
	// iteration budget ran out, not because the model finished.
	CapReached bool
	// OwnValues holds the user's own extracted facts, which are not
	// masked in the user-visible answer.
	OwnValues []string
}

// Process binds citations, enforces the answer format, redacts PII and
// computes the verification score.
func (p *Pipeline) Process(ctx context.Context, in Input) *protocol.EvidencePack {
	citations := BindCitations(in.Answer, in.Chunks)

	answer := in.Answer
	template := DetectTemplate(p.templates, in.Query)
	templateName := ""
	if template != nil {
		answer = template.Apply(answer)
		templateName = template.Name
	}

	answer = p.redactor.RedactForUser(answer, in.OwnValues)

	score := Score(answer, citations, in.Chunks, in.Degraded, in.CapReached)

	p.logger.DebugContext(ctx, "Evidence pipeline finished",
		"citations", len(citations),
		"verification_score", score,
		"template", templateName)

	return &protocol.EvidencePack{
		Answer:            answer,
		Citations:         citations,
		VerificationScore: score,
		FormatTemplate:    templateName,
	}
}

// RedactForStorage masks every configured PII pattern with no allowlist.
// Persistence of a turn must go through this.
func (p *Pipeline) RedactForStorage(text string) string {
	return p.redactor.Redact(text)
}

// RedactForUser masks PII except the user's own values. Streamed answer
// fragments go through this before emission.
func (p *Pipeline) RedactForUser(text string, ownValues []string) string {
	return p.redactor.RedactForUser(text, ownValues)
}
