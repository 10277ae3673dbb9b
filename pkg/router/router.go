// Package router classifies queries into tiers and selects the collections
// a turn is allowed to retrieve from.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// Default greeting patterns matched against the normalized query.
// Config patterns replace these when set.
var defaultGreetingPatterns = []string{
	`^(hi|hello|hey|yo|hiya)( there)?$`,
	`^good (morning|afternoon|evening|night)$`,
	`^(thanks|thank you|thx|ty)( so much| a lot)?$`,
	`^(bye|goodbye|see you|take care)$`,
	`^(ciao|salve|buongiorno|buonasera|grazie( mille)?)$`,
	`^(halo|hai|selamat (pagi|siang|sore|malam)|terima kasih|makasih)$`,
	`^(ok|okay|cool|great|perfect|nice)$`,
}

// Default cues that force the deep tier regardless of query length.
var defaultDeepKeywords = []string{
	"compare", "comparison", "versus", " vs ", "pros and cons",
	"difference between", "step by step", "trade-off", "tradeoff",
	"confronta", "differenza tra", "bandingkan", "perbedaan",
}

// Router produces a RouteDecision per query. It is stateless and safe
// for concurrent use.
type Router struct {
	cfg         *config.RouterConfig
	greetingRes []*regexp.Regexp
	deep        []string
	collections []config.CollectionConfig
	iterations  map[string]int
	logger      *slog.Logger
}

func New(cfg *config.RouterConfig, orch *config.OrchestratorConfig, collections map[string]*config.CollectionConfig, logger *slog.Logger) (*Router, error) {
	patterns := cfg.GreetingPatterns
	if len(patterns) == 0 {
		patterns = defaultGreetingPatterns
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}

	deep := cfg.DeepKeywords
	if len(deep) == 0 {
		deep = defaultDeepKeywords
	}

	// Precedence order is fixed at construction so tie-breaks are stable
	// across requests.
	cols := make([]config.CollectionConfig, 0, len(collections))
	for _, c := range collections {
		if c.IsEnabled() {
			cols = append(cols, *c)
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].Precedence != cols[j].Precedence {
			return cols[i].Precedence < cols[j].Precedence
		}
		return cols[i].Name < cols[j].Name
	})

	return &Router{
		cfg:         cfg,
		greetingRes: res,
		deep:        deep,
		collections: cols,
		iterations:  orch.MaxIterations,
		logger:      logger,
	}, nil
}

// Route classifies the query and selects collections the principal may
// search. Ambiguity falls back to the configured default tier, never to
// greeting.
func (r *Router) Route(ctx context.Context, query string, principal protocol.Principal) protocol.RouteDecision {
	tier := r.classify(query)
	lang := DetectLanguage(query)

	decision := protocol.RouteDecision{
		Tier:          tier,
		ToolsEnabled:  tier != protocol.TierGreeting,
		MaxIterations: r.iterations[string(tier)],
		ModelTier:     string(tier),
		Language:      lang,
	}
	if tier != protocol.TierGreeting {
		decision.Collections = r.selectCollections(query, tier, principal)
	}

	r.logger.InfoContext(ctx, "Routed query",
		"tier", decision.Tier,
		"collections", decision.Collections,
		"max_iterations", decision.MaxIterations,
		"language", decision.Language)
	return decision
}

func (r *Router) classify(query string) protocol.Tier {
	normalized := normalize(query)
	if normalized == "" {
		return protocol.Tier(r.cfg.DefaultTier)
	}

	// Greeting needs both a pattern hit and brevity. A long message that
	// happens to start with "hi" is substantive.
	if wordCount(normalized) <= r.cfg.GreetingMaxTokens {
		for _, re := range r.greetingRes {
			if re.MatchString(normalized) {
				return protocol.TierGreeting
			}
		}
	}

	lowered := strings.ToLower(query)
	for _, kw := range r.deep {
		if strings.Contains(lowered, kw) {
			return protocol.TierDeep
		}
	}

	if wordCount(normalized) <= r.cfg.FastMaxWords && !strings.Contains(lowered, " and ") {
		return protocol.TierFast
	}

	return protocol.Tier(r.cfg.DefaultTier)
}

// selectCollections scores enabled collections by keyword hits, drops
// those the principal lacks the role for, and truncates to one for the
// fast tier. With no keyword hit every authorized collection stays in,
// in precedence order.
func (r *Router) selectCollections(query string, tier protocol.Tier, principal protocol.Principal) []string {
	lowered := strings.ToLower(query)

	type scored struct {
		name  string
		score int
	}
	var matched, fallback []scored
	for _, c := range r.collections {
		if c.RoleRequired != "" && !principal.HasRole(c.RoleRequired) {
			continue
		}
		score := 0
		for _, kw := range c.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				score++
			}
		}
		if score > 0 {
			matched = append(matched, scored{c.Name, score})
		}
		fallback = append(fallback, scored{c.Name, 0})
	}

	selected := matched
	if len(selected) == 0 {
		selected = fallback
	}

	// Higher score first; precedence order (already baked into the slice
	// ordering) breaks ties.
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].score > selected[j].score
	})

	names := make([]string, 0, len(selected))
	for _, s := range selected {
		names = append(names, s.name)
	}
	if tier == protocol.TierFast && len(names) > 1 {
		names = names[:1]
	}
	return names
}

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
