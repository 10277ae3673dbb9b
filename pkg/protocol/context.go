package protocol

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	sessionIDKey     contextKey = "nuzantara:sessionID"
	principalKey     contextKey = "nuzantara:principal"
	correlationIDKey contextKey = "nuzantara:correlationID"
	collectionsKey   contextKey = "nuzantara:authorizedCollections"
)

// WithSessionID stores the session id on the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFrom extracts the session id from the context.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the principal from the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithCorrelationID stores the request correlation id on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFrom extracts the correlation id from the context.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithAuthorizedCollections pins the collections the current turn may
// search, as authorized for the principal at routing time.
func WithAuthorizedCollections(ctx context.Context, collections []string) context.Context {
	return context.WithValue(ctx, collectionsKey, collections)
}

// AuthorizedCollectionsFrom extracts the turn's authorized collections.
// The second return distinguishes "not pinned" from "pinned to none".
func AuthorizedCollectionsFrom(ctx context.Context) ([]string, bool) {
	c, ok := ctx.Value(collectionsKey).([]string)
	return c, ok
}
