package evidence

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/retrieval"
)

func citationsFor(ids ...string) []protocol.Citation {
	out := make([]protocol.Citation, 0, len(ids))
	for _, id := range ids {
		out = append(out, protocol.Citation{ID: id})
	}
	return out
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	piiCfg := &config.PIIConfig{}
	piiCfg.SetDefaults()
	p, err := NewPipeline(piiCfg, slog.Default())
	require.NoError(t, err)
	return p
}

func TestBindCitations(t *testing.T) {
	chunks := []retrieval.Chunk{
		{ID: "c1", Title: "KITAS guide", Content: "An investor KITAS requires a minimum share capital of ten billion rupiah in the sponsoring company", ParentID: "p1"},
		{ID: "c2", Title: "Unrelated", Content: "Surfing lessons are available in Canggu every morning"},
	}

	answer := "The investor KITAS requires a minimum share capital of ten billion rupiah. Enjoy your stay."
	citations := BindCitations(answer, chunks)
	require.Len(t, citations, 1)
	assert.Equal(t, "c1", citations[0].ID)
	assert.Equal(t, "KITAS guide", citations[0].Title)
	assert.Equal(t, "p1", citations[0].ParentID)
	assert.NotEmpty(t, citations[0].Excerpt)
}

func TestBindCitationsUnbound(t *testing.T) {
	chunks := []retrieval.Chunk{
		{ID: "c1", Content: "Tax residency rules for foreign directors"},
	}
	citations := BindCitations("The weather in Bali is lovely most of the year round.", chunks)
	assert.Empty(t, citations)

	assert.Empty(t, BindCitations("anything", nil))
}

func TestScoreRanges(t *testing.T) {
	chunks := []retrieval.Chunk{{ID: "c1", Score: 0.9}}

	// well-cited answer scores high
	wellCited := Score("answer", citationsFor("c1"), chunks, false, false)
	assert.Greater(t, wellCited, 0.6)

	// uncited answer is penalized
	uncited := Score("answer", nil, chunks, false, false)
	assert.Less(t, uncited, wellCited)

	// degraded and capped turns drop further
	degraded := Score("answer", nil, chunks, true, true)
	assert.Less(t, degraded, uncited)

	assert.GreaterOrEqual(t, degraded, 0.0)
	assert.LessOrEqual(t, wellCited, 1.0)
	assert.Equal(t, 0.0, Score("", nil, nil, false, false))
}

func TestScoreHedgingPenalty(t *testing.T) {
	chunks := []retrieval.Chunk{{ID: "c1", Score: 0.8}}
	cites := citationsFor("c1")

	confident := Score("The fee is exactly twelve million rupiah.", cites, chunks, false, false)
	hedged := Score("I think the fee is probably twelve million rupiah.", cites, chunks, false, false)
	assert.Less(t, hedged, confident)
}

func TestRedactor(t *testing.T) {
	piiCfg := &config.PIIConfig{}
	piiCfg.SetDefaults()
	r, err := NewRedactor(piiCfg)
	require.NoError(t, err)

	redacted := r.Redact("Call me at +62 812 3456 7890, NIK 3201234567890001")
	assert.NotContains(t, redacted, "3456")
	assert.NotContains(t, redacted, "3201234567890001")
	assert.Contains(t, redacted, "[REDACTED]")

	// codice fiscale
	redacted = r.Redact("His codice fiscale is RSSMRA85M01H501Z")
	assert.NotContains(t, redacted, "RSSMRA85M01H501Z")
}

func TestRedactForUserKeepsOwnValues(t *testing.T) {
	piiCfg := &config.PIIConfig{}
	piiCfg.SetDefaults()
	r, err := NewRedactor(piiCfg)
	require.NoError(t, err)

	own := "+62 812 3456 7890"
	text := "Your number +62 812 3456 7890 is registered; the agent's is +62 811 9999 8888."
	redacted := r.RedactForUser(text, []string{own})
	assert.Contains(t, redacted, own)
	assert.NotContains(t, redacted, "9999")
}

func TestRedactorRejectsBadPattern(t *testing.T) {
	_, err := NewRedactor(&config.PIIConfig{Patterns: []string{"("}, RedactionPlaceholder: "[X]"})
	assert.Error(t, err)
}

func TestDetectTemplate(t *testing.T) {
	tpl := DetectTemplate(defaultTemplates, "how do I get an investor visa?")
	require.NotNil(t, tpl)
	assert.Equal(t, "visa", tpl.Name)

	tpl = DetectTemplate(defaultTemplates, "setting up a PT PMA")
	require.NotNil(t, tpl)
	assert.Equal(t, "company", tpl.Name)

	assert.Nil(t, DetectTemplate(defaultTemplates, "what is the best beach?"))
}

func TestTemplateApplyIdempotent(t *testing.T) {
	tpl := &defaultTemplates[0]

	formatted := tpl.Apply("plain answer about visas")
	assert.Contains(t, formatted, "## Visa & Immigration")

	already := "## Requirements\n\ndetails here"
	assert.Equal(t, already, tpl.Apply(already))
}

func TestProcessEndToEnd(t *testing.T) {
	p := newTestPipeline(t)

	chunks := []retrieval.Chunk{
		{ID: "c1", Title: "KITAS guide", Score: 0.85, Content: "An investor KITAS requires a minimum share capital of ten billion rupiah in the sponsoring company"},
	}
	pack := p.Process(context.Background(), Input{
		Query:  "what does an investor kitas require?",
		Answer: "The investor KITAS requires a minimum share capital of ten billion rupiah.",
		Chunks: chunks,
	})

	require.Len(t, pack.Citations, 1)
	assert.Equal(t, "visa", pack.FormatTemplate)
	assert.Contains(t, pack.Answer, "## Visa & Immigration")
	assert.Greater(t, pack.VerificationScore, 0.5)
}

func TestHasNumberedList(t *testing.T) {
	assert.True(t, HasNumberedList("Steps:\n1. Apply online\n2. Pay the fee"))
	assert.False(t, HasNumberedList("1. Only one item"))
	assert.False(t, HasNumberedList("no list at all"))
}
