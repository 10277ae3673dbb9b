package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/memory"
	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/tools"
)

type turnHandlerStub struct {
	events  []protocol.Event
	lastQ   protocol.Query
	handled int
}

func (h *turnHandlerStub) HandleTurn(ctx context.Context, q protocol.Query, sink func(protocol.Event) error) {
	h.lastQ = q
	h.handled++
	for _, ev := range h.events {
		if sink(ev) != nil {
			return
		}
	}
}

type redactorStub struct{}

func (redactorStub) RedactForStorage(text string) string {
	return strings.ReplaceAll(text, "081234567890", "[phone]")
}

func newTestServer(t *testing.T, orch TurnHandler, authCfg *config.AuthConfig) (*Server, *memory.InMemorySessionService) {
	t.Helper()

	cfg := &config.ServerConfig{CORSOrigins: []string{"https://app.balizero.com"}}
	cfg.SetDefaults()
	limits := &config.LimitsConfig{}
	limits.SetDefaults()
	if authCfg == nil {
		authCfg = &config.AuthConfig{}
	}

	auth, err := NewAuthenticator(context.Background(), authCfg)
	require.NoError(t, err)

	sessions := memory.NewInMemorySessionService()
	srv := New(Options{
		Config:   cfg,
		Limits:   limits,
		Orch:     orch,
		Sessions: sessions,
		ToolDefs: []tools.Definition{{Name: "pricing_lookup", Description: "Price book lookup"}},
		Auth:     auth,
		Redactor: redactorStub{},
		Logger:   slog.Default(),
		Version:  "test",
	})
	return srv, sessions
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestQueryStreamsSSE(t *testing.T) {
	orch := &turnHandlerStub{events: []protocol.Event{
		protocol.StatusEvent("routing", "pro"),
		protocol.ChunkEvent("The KITAS costs 17 million rupiah."),
		protocol.SourcesEvent([]protocol.Citation{{ID: "c1"}}, 0.8),
		protocol.DoneEvent("s1", 1),
	}}
	srv, _ := newTestServer(t, orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"query":"how much is a kitas?","session_id":"s1"}`))
	req.Header.Set("X-Principal-ID", "u1")
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, "event: chunk")
	assert.Contains(t, body, "17 million rupiah")
	assert.Contains(t, body, "event: sources")
	assert.Contains(t, body, "event: done")

	assert.Equal(t, "u1", orch.lastQ.Principal.ID)
	assert.Equal(t, "s1", orch.lastQ.SessionID)
}

func TestQueryStreamAlias(t *testing.T) {
	orch := &turnHandlerStub{events: []protocol.Event{protocol.DoneEvent("s1", 1)}}
	srv, _ := newTestServer(t, orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"query":"hello"}`))
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, orch.handled)
	assert.NotEmpty(t, orch.lastQ.SessionID, "a session id is assigned when omitted")
}

func TestQueryValidation(t *testing.T) {
	orch := &turnHandlerStub{}
	srv, _ := newTestServer(t, orch, nil)

	for name, body := range map[string]string{
		"empty":     `{"query":"  "}`,
		"malformed": `{"query":`,
		"too long":  `{"query":"` + strings.Repeat("a", maxQueryLength+1) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
			rec := doRequest(srv, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, 0, orch.handled)
}

func TestHistoryOwnership(t *testing.T) {
	srv, sessions := newTestServer(t, &turnHandlerStub{}, nil)

	_, err := sessions.GetOrCreateSession(context.Background(), "s1", "alice")
	require.NoError(t, err)
	require.NoError(t, sessions.AppendMessage(context.Background(), "s1", protocol.NewUserMessage("hi")))

	req := httptest.NewRequest(http.MethodGet, "/v1/history?session_id=s1", nil)
	req.Header.Set("X-Principal-ID", "alice")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages"`)

	req = httptest.NewRequest(http.MethodGet, "/v1/history?session_id=s1", nil)
	req.Header.Set("X-Principal-ID", "mallory")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHistoryAppend(t *testing.T) {
	srv, sessions := newTestServer(t, &turnHandlerStub{}, nil)

	// Appended content is principal-scoped and redacted before storage.
	req := httptest.NewRequest(http.MethodPost, "/v1/history",
		strings.NewReader(`{"session_id":"s1","content":"operator note: call back on 081234567890"}`))
	req.Header.Set("X-Principal-ID", "alice")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	msgs, err := sessions.GetMessages(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.RoleUser, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "[phone]")
	assert.NotContains(t, msgs[0].Content, "081234567890")

	// Assistant notes are allowed; anything else is rejected.
	req = httptest.NewRequest(http.MethodPost, "/v1/history",
		strings.NewReader(`{"session_id":"s1","role":"assistant","content":"resolved offline"}`))
	req.Header.Set("X-Principal-ID", "alice")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/history",
		strings.NewReader(`{"session_id":"s1","role":"system","content":"nope"}`))
	req.Header.Set("X-Principal-ID", "alice")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Another principal cannot write into alice's session.
	req = httptest.NewRequest(http.MethodPost, "/v1/history",
		strings.NewReader(`{"session_id":"s1","content":"sneaky"}`))
	req.Header.Set("X-Principal-ID", "mallory")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Empty content is rejected.
	req = httptest.NewRequest(http.MethodPost, "/v1/history",
		strings.NewReader(`{"session_id":"s1","content":"  "}`))
	req.Header.Set("X-Principal-ID", "alice")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryValidation(t *testing.T) {
	srv, _ := newTestServer(t, &turnHandlerStub{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/history?session_id=s1&limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &turnHandlerStub{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/tools", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pricing_lookup")
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &turnHandlerStub{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &turnHandlerStub{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/query", nil)
	req.Header.Set("Origin", "https://app.balizero.com")
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.balizero.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/query", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = doRequest(srv, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBearerAuth(t *testing.T) {
	secret := []byte("test-secret")
	authCfg := &config.AuthConfig{Enabled: true, Secret: string(secret), Issuer: "https://auth.balizero.com"}

	orch := &turnHandlerStub{events: []protocol.Event{protocol.DoneEvent("s1", 1)}}
	srv, _ := newTestServer(t, orch, authCfg)

	tok, err := jwt.NewBuilder().
		Subject("user-42").
		Issuer("https://auth.balizero.com").
		Expiration(time.Now().Add(time.Hour)).
		Claim("roles", []string{"staff"}).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hello there"}`))
	req.Header.Set("Authorization", "Bearer "+string(signed))
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", orch.lastQ.Principal.ID)
	assert.True(t, orch.lastQ.Principal.HasRole("staff"))

	// no token
	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hello"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// wrong key
	badSigned, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("other-secret")))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hello"}`))
	req.Header.Set("Authorization", "Bearer "+string(badSigned))
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
