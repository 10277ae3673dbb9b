package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ParentDocument is the canonical full-text document a chunk was cut from.
type ParentDocument struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	FullText string         `json:"full_text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ParentStore fetches canonical parent documents for context expansion.
type ParentStore interface {
	GetParent(ctx context.Context, parentID string) (*ParentDocument, error)
}

// SQLParentStore reads parent documents from a relational table populated
// by the external ingestion pipeline. Non-canonical rows are invisible.
type SQLParentStore struct {
	db      *sql.DB
	dialect string
}

const createParentsTableSQL = `
CREATE TABLE IF NOT EXISTS parent_documents (
    id VARCHAR(255) PRIMARY KEY,
    title TEXT NOT NULL,
    full_text TEXT NOT NULL,
    metadata_json TEXT,
    is_canonical BOOLEAN NOT NULL DEFAULT TRUE
);
`

func NewSQLParentStore(db *sql.DB, dialect string) (*SQLParentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQLParentStore{db: db, dialect: dialect}
	if _, err := db.Exec(createParentsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize parent table: %w", err)
	}
	return s, nil
}

// GetParent returns the canonical document, or nil when the id is unknown
// or only a non-canonical row exists.
func (s *SQLParentStore) GetParent(ctx context.Context, parentID string) (*ParentDocument, error) {
	query := `SELECT id, title, full_text, metadata_json FROM parent_documents WHERE id = ? AND is_canonical`
	if s.dialect == "postgres" {
		query = `SELECT id, title, full_text, metadata_json FROM parent_documents WHERE id = $1 AND is_canonical`
	}

	var doc ParentDocument
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx, query, parentID).Scan(&doc.ID, &doc.Title, &doc.FullText, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parent document: %w", err)
	}
	if metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &doc.Metadata)
	}
	return &doc, nil
}
