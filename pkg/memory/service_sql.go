package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// SQLSessionService persists sessions, messages, entities and summaries
// in a relational database. Supports postgres, mysql and sqlite.
type SQLSessionService struct {
	db      *sql.DB
	dialect string
}

const createConversationsTableSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id VARCHAR(255) PRIMARY KEY,
    principal_id VARCHAR(255) NOT NULL,
    summary TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_principal ON conversations(principal_id);
`

const createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    tool_name VARCHAR(255),
    tool_args TEXT,
    tool_result TEXT,
    sources_json TEXT,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_sequence ON conversation_messages(session_id, sequence_num);
`

const createEntitiesTableSQL = `
CREATE TABLE IF NOT EXISTS session_entities (
    session_id VARCHAR(255) NOT NULL,
    kind VARCHAR(64) NOT NULL,
    value TEXT NOT NULL,
    confidence REAL NOT NULL,
    turn_index INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, kind)
);
`

// NewSQLSessionService opens the schema over an existing pool.
func NewSQLSessionService(db *sql.DB, dialect string) (*SQLSessionService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLSessionService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLSessionServiceFromConfig opens a pool and initializes the schema.
func NewSQLSessionServiceFromConfig(cfg *config.DatabaseConfig, pool *config.DBPool) (*SQLSessionService, error) {
	db, err := pool.Get(cfg)
	if err != nil {
		return nil, err
	}
	return NewSQLSessionService(db, cfg.Dialect())
}

func (s *SQLSessionService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messagesSQL := createMessagesTableSQL
	switch s.dialect {
	case "postgres":
		messagesSQL = strings.Replace(messagesSQL,
			"id INTEGER PRIMARY KEY AUTOINCREMENT", "id SERIAL PRIMARY KEY", 1)
	case "mysql":
		messagesSQL = strings.Replace(messagesSQL,
			"id INTEGER PRIMARY KEY AUTOINCREMENT", "id BIGINT PRIMARY KEY AUTO_INCREMENT", 1)
	}

	for _, stmt := range []string{createConversationsTableSQL, messagesSQL, createEntitiesTableSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rewrites ? placeholders to $n for postgres.
func (s *SQLSessionService) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLSessionService) GetOrCreateSession(ctx context.Context, sessionID, principalID string) (*protocol.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID cannot be empty")
	}

	var owner string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT principal_id, created_at FROM conversations WHERE id = ?`),
		sessionID).Scan(&owner, &createdAt)

	switch {
	case err == sql.ErrNoRows:
		now := time.Now()
		_, err = s.db.ExecContext(ctx,
			s.q(`INSERT INTO conversations (id, principal_id, summary, created_at, updated_at) VALUES (?, ?, '', ?, ?)`),
			sessionID, principalID, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return &protocol.Session{ID: sessionID, PrincipalID: principalID, CreatedAt: now}, nil

	case err != nil:
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if owner != principalID {
		return nil, ErrSessionOwnership
	}
	return &protocol.Session{ID: sessionID, PrincipalID: owner, CreatedAt: createdAt}, nil
}

func (s *SQLSessionService) AppendMessage(ctx context.Context, sessionID string, msg protocol.Message) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64
	if err = tx.QueryRowContext(ctx,
		s.q(`SELECT COALESCE(MAX(sequence_num), 0) FROM conversation_messages WHERE session_id = ?`),
		sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	var toolArgs, sources []byte
	if msg.ToolArgs != nil {
		toolArgs, _ = json.Marshal(msg.ToolArgs)
	}
	if msg.Sources != nil {
		sources, _ = json.Marshal(msg.Sources)
	}

	now := time.Now()
	if _, err = tx.ExecContext(ctx, s.q(`
INSERT INTO conversation_messages
(session_id, role, content, tool_name, tool_args, tool_result, sources_json, sequence_num, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sessionID, string(msg.Role), msg.Content, msg.ToolName,
		string(toolArgs), msg.ToolResult, string(sources), seq+1, now); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		s.q(`UPDATE conversations SET updated_at = ? WHERE id = ?`), now, sessionID); err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLSessionService) GetMessages(ctx context.Context, sessionID string, limit int) ([]protocol.Message, error) {
	query := `
SELECT role, content, tool_name, tool_args, tool_result, sources_json, created_at
FROM conversation_messages
WHERE session_id = ?
ORDER BY sequence_num ASC`
	args := []any{sessionID}

	if limit > 0 {
		query = `
SELECT role, content, tool_name, tool_args, tool_result, sources_json, created_at FROM (
    SELECT role, content, tool_name, tool_args, tool_result, sources_json, created_at, sequence_num
    FROM conversation_messages
    WHERE session_id = ?
    ORDER BY sequence_num DESC
    LIMIT ?
) sub ORDER BY sequence_num ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []protocol.Message
	for rows.Next() {
		var msg protocol.Message
		var role string
		var toolName, toolArgs, toolResult, sources sql.NullString
		if err := rows.Scan(&role, &msg.Content, &toolName, &toolArgs, &toolResult, &sources, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = protocol.Role(role)
		msg.ToolName = toolName.String
		msg.ToolResult = toolResult.String
		if toolArgs.String != "" {
			_ = json.Unmarshal([]byte(toolArgs.String), &msg.ToolArgs)
		}
		if sources.String != "" {
			_ = json.Unmarshal([]byte(sources.String), &msg.Sources)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLSessionService) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM conversation_messages WHERE session_id = ?`),
		sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *SQLSessionService) UpsertEntities(ctx context.Context, sessionID string, entities []protocol.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, e := range entities {
		if e.Value == "" {
			continue
		}

		var existingTurn int
		scanErr := tx.QueryRowContext(ctx,
			s.q(`SELECT turn_index FROM session_entities WHERE session_id = ? AND kind = ?`),
			sessionID, string(e.Kind)).Scan(&existingTurn)

		now := time.Now()
		switch {
		case scanErr == sql.ErrNoRows:
			if _, err = tx.ExecContext(ctx, s.q(`
INSERT INTO session_entities (session_id, kind, value, confidence, turn_index, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`),
				sessionID, string(e.Kind), e.Value, e.Confidence, e.TurnIndex, now); err != nil {
				return fmt.Errorf("failed to insert entity: %w", err)
			}
		case scanErr != nil:
			err = fmt.Errorf("failed to query entity: %w", scanErr)
			return err
		case e.TurnIndex >= existingTurn:
			if _, err = tx.ExecContext(ctx, s.q(`
UPDATE session_entities SET value = ?, confidence = ?, turn_index = ?, updated_at = ?
WHERE session_id = ? AND kind = ?`),
				e.Value, e.Confidence, e.TurnIndex, now, sessionID, string(e.Kind)); err != nil {
				return fmt.Errorf("failed to update entity: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLSessionService) GetEntities(ctx context.Context, sessionID string) ([]protocol.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT kind, value, confidence, turn_index FROM session_entities WHERE session_id = ? ORDER BY kind`),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []protocol.Entity
	for rows.Next() {
		var e protocol.Entity
		var kind string
		if err := rows.Scan(&kind, &e.Value, &e.Confidence, &e.TurnIndex); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Kind = protocol.EntityKind(kind)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *SQLSessionService) GetSummary(ctx context.Context, sessionID string) (string, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT summary FROM conversations WHERE id = ?`), sessionID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query summary: %w", err)
	}
	return summary.String, nil
}

func (s *SQLSessionService) SetSummary(ctx context.Context, sessionID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE conversations SET summary = ?, updated_at = ? WHERE id = ?`),
		summary, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	return nil
}

func (s *SQLSessionService) Close() error {
	return nil
}
