package memory

import (
	"context"
	"sync"
	"time"

	"github.com/balizero/nuzantara/pkg/protocol"
)

// InMemorySessionService keeps all session state in process memory.
// Used for development and tests; state does not survive restarts.
type InMemorySessionService struct {
	mu        sync.RWMutex
	sessions  map[string]*protocol.Session
	messages  map[string][]protocol.Message
	entities  map[string]map[protocol.EntityKind]protocol.Entity
	summaries map[string]string
}

func NewInMemorySessionService() *InMemorySessionService {
	return &InMemorySessionService{
		sessions:  make(map[string]*protocol.Session),
		messages:  make(map[string][]protocol.Message),
		entities:  make(map[string]map[protocol.EntityKind]protocol.Entity),
		summaries: make(map[string]string),
	}
}

func (s *InMemorySessionService) GetOrCreateSession(ctx context.Context, sessionID, principalID string) (*protocol.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		if session.PrincipalID != principalID {
			return nil, ErrSessionOwnership
		}
		copied := *session
		return &copied, nil
	}

	session := &protocol.Session{
		ID:          sessionID,
		PrincipalID: principalID,
		CreatedAt:   time.Now(),
	}
	s.sessions[sessionID] = session
	copied := *session
	return &copied, nil
}

func (s *InMemorySessionService) AppendMessage(ctx context.Context, sessionID string, msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return nil
}

func (s *InMemorySessionService) GetMessages(ctx context.Context, sessionID string, limit int) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]protocol.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemorySessionService) MessageCount(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID]), nil
}

func (s *InMemorySessionService) UpsertEntities(ctx context.Context, sessionID string, entities []protocol.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind, ok := s.entities[sessionID]
	if !ok {
		byKind = make(map[protocol.EntityKind]protocol.Entity)
		s.entities[sessionID] = byKind
	}

	for _, e := range entities {
		if e.Value == "" {
			continue
		}
		if current, exists := byKind[e.Kind]; exists && current.TurnIndex > e.TurnIndex {
			continue
		}
		byKind[e.Kind] = e
	}
	return nil
}

func (s *InMemorySessionService) GetEntities(ctx context.Context, sessionID string) ([]protocol.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := s.entities[sessionID]
	out := make([]protocol.Entity, 0, len(byKind))
	for _, e := range byKind {
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemorySessionService) GetSummary(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[sessionID], nil
}

func (s *InMemorySessionService) SetSummary(ctx context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sessionID] = summary
	return nil
}

func (s *InMemorySessionService) Close() error {
	return nil
}
