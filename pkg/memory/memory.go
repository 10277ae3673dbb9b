// Package memory persists conversation history, extracted entities and
// rolling summaries per session, and serializes turns within a session.
package memory

import (
	"context"
	"errors"

	"github.com/balizero/nuzantara/pkg/protocol"
)

// ErrSessionOwnership is returned when a principal addresses a session
// created by a different principal. History never crosses this boundary.
var ErrSessionOwnership = errors.New("session belongs to a different principal")

// SessionService stores per-session conversation state. Messages are
// immutable once appended; order equals insertion order.
type SessionService interface {
	// GetOrCreateSession resolves a session, creating it on first use.
	// An existing session owned by another principal yields
	// ErrSessionOwnership.
	GetOrCreateSession(ctx context.Context, sessionID, principalID string) (*protocol.Session, error)

	// AppendMessage appends one message to the session history.
	AppendMessage(ctx context.Context, sessionID string, msg protocol.Message) error

	// GetMessages returns the most recent messages in insertion order.
	// limit <= 0 returns the full history.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]protocol.Message, error)

	// MessageCount returns the total number of stored messages.
	MessageCount(ctx context.Context, sessionID string) (int, error)

	// UpsertEntities merges extracted entities. Per kind, the value from
	// the highest turn index wins; empty values never overwrite.
	UpsertEntities(ctx context.Context, sessionID string, entities []protocol.Entity) error

	// GetEntities returns the current winning entity per kind.
	GetEntities(ctx context.Context, sessionID string) ([]protocol.Entity, error)

	// GetSummary returns the rolling summary of older history, or "".
	GetSummary(ctx context.Context, sessionID string) (string, error)

	// SetSummary replaces the rolling summary.
	SetSummary(ctx context.Context, sessionID, summary string) error

	Close() error
}
