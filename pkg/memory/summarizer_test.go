package memory

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/llms"
	"github.com/balizero/nuzantara/pkg/protocol"
)

type summaryGenStub struct {
	reply string
	err   error
	calls int
}

func (g *summaryGenStub) Generate(ctx context.Context, modelTier string, req llms.Request) (string, []*protocol.ToolCall, int, error) {
	g.calls++
	return g.reply, nil, 5, g.err
}

func seedMessages(t *testing.T, svc SessionService, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.GetOrCreateSession(ctx, sessionID, "u1")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, svc.AppendMessage(ctx, sessionID, protocol.NewUserMessage(fmt.Sprintf("message %d", i))))
	}
}

func TestSummarizerBelowTriggerDoesNothing(t *testing.T) {
	svc := NewInMemorySessionService()
	gen := &summaryGenStub{reply: "irrelevant"}
	s := NewSummarizer(svc, gen, &config.MemoryConfig{HistoryWindow: 20, SummarizationTrigger: 6}, slog.Default())

	seedMessages(t, svc, "s1", 4)
	s.MaybeSummarize(context.Background(), "s1")

	assert.Equal(t, 0, gen.calls)
	summary, err := svc.GetSummary(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestSummarizerWritesAtTrigger(t *testing.T) {
	svc := NewInMemorySessionService()
	gen := &summaryGenStub{reply: "The user is opening a restaurant in Canggu with a 50k USD budget."}
	s := NewSummarizer(svc, gen, &config.MemoryConfig{HistoryWindow: 20, SummarizationTrigger: 6}, slog.Default())

	seedMessages(t, svc, "s1", 7)
	s.MaybeSummarize(context.Background(), "s1")

	assert.Equal(t, 1, gen.calls)
	summary, err := svc.GetSummary(context.Background(), "s1")
	require.NoError(t, err)
	assert.Contains(t, summary, "restaurant in Canggu")

	// An existing summary is not refreshed until the next multiple of ten.
	s.MaybeSummarize(context.Background(), "s1")
	assert.Equal(t, 1, gen.calls)
}

func TestSummarizerRefreshesEveryTen(t *testing.T) {
	svc := NewInMemorySessionService()
	gen := &summaryGenStub{reply: "summary v1"}
	s := NewSummarizer(svc, gen, &config.MemoryConfig{HistoryWindow: 20, SummarizationTrigger: 6}, slog.Default())

	seedMessages(t, svc, "s1", 6)
	s.MaybeSummarize(context.Background(), "s1")
	require.Equal(t, 1, gen.calls)

	seedMessages(t, svc, "s1", 4) // total 10
	gen.reply = "summary v2"
	s.MaybeSummarize(context.Background(), "s1")
	assert.Equal(t, 2, gen.calls)

	summary, err := svc.GetSummary(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "summary v2", summary)
}

func TestSummarizerKeepsOldSummaryOnFailure(t *testing.T) {
	svc := NewInMemorySessionService()
	gen := &summaryGenStub{reply: "good summary"}
	s := NewSummarizer(svc, gen, &config.MemoryConfig{HistoryWindow: 20, SummarizationTrigger: 6}, slog.Default())

	seedMessages(t, svc, "s1", 6)
	s.MaybeSummarize(context.Background(), "s1")

	seedMessages(t, svc, "s1", 4) // total 10 triggers a refresh
	gen.err = fmt.Errorf("model unavailable")
	s.MaybeSummarize(context.Background(), "s1")

	summary, err := svc.GetSummary(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "good summary", summary)
}
