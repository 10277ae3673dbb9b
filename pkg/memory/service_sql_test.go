package memory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/protocol"
)

func newSQLiteService(t *testing.T) *SQLSessionService {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "memory_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := NewSQLSessionService(db, "sqlite")
	require.NoError(t, err)
	return svc
}

func TestSQLSessionLifecycle(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()

	created, err := svc.GetOrCreateSession(ctx, "sess-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", created.PrincipalID)

	_, err = svc.GetOrCreateSession(ctx, "sess-1", "bob")
	assert.ErrorIs(t, err, ErrSessionOwnership)

	reopened, err := svc.GetOrCreateSession(ctx, "sess-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, reopened.ID)
}

func TestSQLMessagesRoundTrip(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateSession(ctx, "sess-1", "alice")
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(ctx, "sess-1", protocol.NewUserMessage("what visa do I need?")))
	require.NoError(t, svc.AppendMessage(ctx, "sess-1", protocol.Message{
		Role:       protocol.RoleTool,
		Content:    "",
		ToolName:   "pricing_lookup",
		ToolArgs:   map[string]any{"service": "kitas"},
		ToolResult: `{"price": "IDR 12,000,000"}`,
	}))
	require.NoError(t, svc.AppendMessage(ctx, "sess-1", protocol.NewAssistantMessage("A KITAS costs...", []protocol.Citation{
		{ID: "c1", Title: "Visa guide", Excerpt: "KITAS pricing"},
	})))

	msgs, err := svc.GetMessages(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.RoleUser, msgs[0].Role)
	assert.Equal(t, "pricing_lookup", msgs[1].ToolName)
	assert.Equal(t, "kitas", msgs[1].ToolArgs["service"])
	require.Len(t, msgs[2].Sources, 1)
	assert.Equal(t, "Visa guide", msgs[2].Sources[0].Title)

	// limit returns the newest messages in chronological order
	tail, err := svc.GetMessages(ctx, "sess-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, protocol.RoleTool, tail[0].Role)
	assert.Equal(t, protocol.RoleAssistant, tail[1].Role)

	count, err := svc.MessageCount(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLEntitiesNewestWins(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateSession(ctx, "sess-1", "alice")
	require.NoError(t, err)

	require.NoError(t, svc.UpsertEntities(ctx, "sess-1", []protocol.Entity{
		{Kind: protocol.EntityLocation, Value: "Canggu", Confidence: 0.9, TurnIndex: 1},
		{Kind: protocol.EntityName, Value: "Marco", Confidence: 0.9, TurnIndex: 1},
	}))
	require.NoError(t, svc.UpsertEntities(ctx, "sess-1", []protocol.Entity{
		{Kind: protocol.EntityLocation, Value: "Ubud", Confidence: 0.7, TurnIndex: 4},
	}))
	// stale turn must not override
	require.NoError(t, svc.UpsertEntities(ctx, "sess-1", []protocol.Entity{
		{Kind: protocol.EntityLocation, Value: "Seminyak", Confidence: 0.9, TurnIndex: 2},
	}))

	entities, err := svc.GetEntities(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entities, 2)

	byKind := make(map[protocol.EntityKind]protocol.Entity)
	for _, e := range entities {
		byKind[e.Kind] = e
	}
	assert.Equal(t, "Ubud", byKind[protocol.EntityLocation].Value)
	assert.Equal(t, "Marco", byKind[protocol.EntityName].Value)
}

func TestSQLSummary(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateSession(ctx, "sess-1", "alice")
	require.NoError(t, err)

	summary, err := svc.GetSummary(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, summary)

	require.NoError(t, svc.SetSummary(ctx, "sess-1", "User asked about visas."))
	summary, err = svc.GetSummary(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "User asked about visas.", summary)
}
