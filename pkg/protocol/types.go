// Package protocol defines the wire-level and cross-component types shared by
// the Nuzantara core: messages, sessions, route decisions, retrieval results
// and the typed event stream emitted to callers.
package protocol

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation turn entry. Messages are immutable once
// persisted; order within a session equals insertion order.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Sources   []Citation `json:"sources,omitempty"`

	// Tool metadata, present only for tool-originated messages.
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
}

// Principal is the authenticated caller. The core never creates principals;
// it receives them from the auth layer and uses them for session scoping and
// collection authorization.
type Principal struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Session scopes an ordered message history and extracted entities.
// Session ids are opaque strings supplied by the caller.
type Session struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// EntityKind names a recognized extracted-fact category.
type EntityKind string

const (
	EntityName              EntityKind = "name"
	EntityLocation          EntityKind = "location"
	EntityBudget            EntityKind = "budget"
	EntityProfession        EntityKind = "profession"
	EntityPreferredLanguage EntityKind = "preferred_language"
	EntityExpertiseLevel    EntityKind = "expertise_level"
	EntityBusinessIntent    EntityKind = "business_intent"
)

// Entity is a fact extracted from user turns and bound to a session.
// The newest non-empty value per kind wins.
type Entity struct {
	Kind       EntityKind `json:"kind"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	TurnIndex  int        `json:"turn_index"`
}

// Tier is the coarse query-difficulty classification selecting compute
// budget and model capability.
type Tier string

const (
	TierGreeting Tier = "greeting"
	TierFast     Tier = "fast"
	TierPro      Tier = "pro"
	TierDeep     Tier = "deep"
)

// RouteDecision is produced per query by the router and consumed by the
// orchestrator and retrieval pipeline.
type RouteDecision struct {
	Tier          Tier     `json:"tier"`
	Collections   []string `json:"collections"`
	ToolsEnabled  bool     `json:"tools_enabled"`
	MaxIterations int      `json:"max_iterations"`
	ModelTier     string   `json:"model_tier"`
	Language      string   `json:"language"`
}

// Query is the ephemeral per-request input to the orchestrator.
type Query struct {
	Text      string            `json:"text"`
	SessionID string            `json:"session_id"`
	Principal Principal         `json:"principal"`
	Hints     map[string]string `json:"hints,omitempty"`
}

// Citation references a retrieved chunk that supports a span of the answer.
type Citation struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt"`
	ParentID string `json:"parent_id,omitempty"`
}

// EvidencePack is the verified output of a turn.
type EvidencePack struct {
	Answer            string     `json:"answer"`
	Citations         []Citation `json:"citations"`
	VerificationScore float64    `json:"verification_score"`
	FormatTemplate    string     `json:"format_template,omitempty"`
	Cached            bool       `json:"cached,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolResult carries the outcome of a tool invocation back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
}

// ToolOutcome classifies a completed tool invocation.
type ToolOutcome string

const (
	ToolOutcomeOK      ToolOutcome = "ok"
	ToolOutcomeError   ToolOutcome = "error"
	ToolOutcomeTimeout ToolOutcome = "timeout"
)

// ToolInvocation is the persisted record of one tool call within a turn.
type ToolInvocation struct {
	Name       string      `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Outcome    ToolOutcome `json:"outcome"`
	Result     string      `json:"result,omitempty"`
	Err        string      `json:"error,omitempty"`
}

// NewUserMessage builds a user message stamped now.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant message stamped now.
func NewAssistantMessage(text string, sources []Citation) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now(), Sources: sources}
}
