package router

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	routerCfg := &config.RouterConfig{}
	routerCfg.SetDefaults()
	orchCfg := &config.OrchestratorConfig{}
	orchCfg.SetDefaults()

	disabled := false
	collections := map[string]*config.CollectionConfig{
		"visa_oracle":  {Keywords: []string{"visa", "kitas", "immigration", "passport"}, Precedence: 1},
		"tax_genius":   {Keywords: []string{"tax", "npwp", "pph"}, Precedence: 2},
		"pricing":      {Keywords: []string{"price", "cost", "how much"}, Precedence: 3},
		"internal_ops": {Keywords: []string{"team", "roster"}, Precedence: 4, RoleRequired: "staff"},
		"archived":     {Keywords: []string{"legacy"}, Precedence: 5, Enabled: &disabled},
	}
	for name, c := range collections {
		c.SetDefaults(name)
	}

	r, err := New(routerCfg, orchCfg, collections, slog.Default())
	require.NoError(t, err)
	return r
}

func TestRouteGreeting(t *testing.T) {
	r := newTestRouter(t)

	for _, q := range []string{"hi", "Hello!", "thanks so much", "Ciao", "terima kasih", "good morning"} {
		d := r.Route(context.Background(), q, protocol.Principal{ID: "u1"})
		assert.Equal(t, protocol.TierGreeting, d.Tier, "query %q", q)
		assert.False(t, d.ToolsEnabled)
		assert.Empty(t, d.Collections)
		assert.Equal(t, 0, d.MaxIterations)
	}
}

func TestRouteGreetingRequiresBrevity(t *testing.T) {
	r := newTestRouter(t)

	d := r.Route(context.Background(), "hi, I need to know which visa lets me work remotely from Bali for a year", protocol.Principal{ID: "u1"})
	assert.NotEqual(t, protocol.TierGreeting, d.Tier)
	assert.True(t, d.ToolsEnabled)
}

func TestRouteFast(t *testing.T) {
	r := newTestRouter(t)

	d := r.Route(context.Background(), "how much does a KITAS cost?", protocol.Principal{ID: "u1"})
	assert.Equal(t, protocol.TierFast, d.Tier)
	assert.Equal(t, 2, d.MaxIterations)
	// fast tier keeps the single best collection
	require.Len(t, d.Collections, 1)
	assert.Equal(t, "pricing", d.Collections[0])
}

func TestRouteDeepKeyword(t *testing.T) {
	r := newTestRouter(t)

	d := r.Route(context.Background(), "compare the B211A visa with the second home visa", protocol.Principal{ID: "u1"})
	assert.Equal(t, protocol.TierDeep, d.Tier)
	assert.Equal(t, 6, d.MaxIterations)
	assert.Contains(t, d.Collections, "visa_oracle")
}

func TestRouteAmbiguousDefaultsToPro(t *testing.T) {
	r := newTestRouter(t)

	d := r.Route(context.Background(), "I am not sure what I should do about my situation here and would like some detailed guidance", protocol.Principal{ID: "u1"})
	assert.Equal(t, protocol.TierPro, d.Tier)
	assert.Equal(t, 4, d.MaxIterations)
}

func TestRouteCollectionAuthorization(t *testing.T) {
	r := newTestRouter(t)

	d := r.Route(context.Background(), "who is on the team roster?", protocol.Principal{ID: "u1"})
	assert.NotContains(t, d.Collections, "internal_ops")

	d = r.Route(context.Background(), "who is on the team roster?", protocol.Principal{ID: "u2", Roles: []string{"staff"}})
	assert.Contains(t, d.Collections, "internal_ops")
}

func TestRouteDisabledCollectionExcluded(t *testing.T) {
	r := newTestRouter(t)

	d := r.Route(context.Background(), "tell me about the legacy process", protocol.Principal{ID: "u1"})
	assert.NotContains(t, d.Collections, "archived")
}

func TestRouteNoKeywordMatchFallsBackByPrecedence(t *testing.T) {
	r := newTestRouter(t)

	d := r.Route(context.Background(), "I want to understand all the requirements and the full process for my move", protocol.Principal{ID: "u1"})
	require.NotEmpty(t, d.Collections)
	assert.Equal(t, "visa_oracle", d.Collections[0])
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", DetectLanguage("How much does the visa cost?"))
	assert.Equal(t, "it", DetectLanguage("Quanto costa il visto per un anno?"))
	assert.Equal(t, "id", DetectLanguage("Berapa biaya visa untuk satu tahun?"))
	assert.Equal(t, "en", DetectLanguage(""))
}

func TestDetectLanguageGreetings(t *testing.T) {
	// One-word greetings carry no stopwords; the greeting words themselves
	// must score so replies come back in the user's language.
	assert.Equal(t, "it", DetectLanguage("Ciao!"))
	assert.Equal(t, "it", DetectLanguage("Buongiorno, grazie"))
	assert.Equal(t, "id", DetectLanguage("Halo"))
	assert.Equal(t, "id", DetectLanguage("Selamat pagi, terima kasih"))
	assert.Equal(t, "en", DetectLanguage("Hello there"))
}
