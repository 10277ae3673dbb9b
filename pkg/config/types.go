package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Port)
	}
	return nil
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig configures principal extraction from bearer tokens. The core
// consumes an existing identity system; it does not issue tokens.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	JWKSURL  string `yaml:"jwks_url,omitempty"`
	Secret   string `yaml:"secret,omitempty"`
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

// CollectionConfig describes one named vector-store collection.
type CollectionConfig struct {
	// Name is filled from the map key during SetDefaults.
	Name         string   `yaml:"-"`
	Enabled      *bool    `yaml:"enabled,omitempty"`
	RoleRequired string   `yaml:"role_required,omitempty"`
	TopK         int      `yaml:"k"`
	Precedence   int      `yaml:"precedence"`
	Keywords     []string `yaml:"keywords,omitempty"`
	Description  string   `yaml:"description,omitempty"`

	// Namespace is the UUID namespace chunk ids in this collection are
	// derived from. Must parse as a UUID; rejected otherwise so that
	// chunk-id determinism is enforced at boot.
	Namespace string `yaml:"namespace"`
}

func (c *CollectionConfig) SetDefaults(name string) {
	c.Name = name
	if c.TopK == 0 {
		c.TopK = 10
	}
}

func (c *CollectionConfig) Validate() error {
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("k must be in [1,100], got %d", c.TopK)
	}
	if c.Namespace != "" {
		if _, err := uuid.Parse(c.Namespace); err != nil {
			return fmt.Errorf("namespace must be a UUID: %w", err)
		}
	}
	return nil
}

// IsEnabled reports whether the collection participates in routing.
func (c *CollectionConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RouterConfig configures tier classification and collection selection.
type RouterConfig struct {
	DefaultTier       string   `yaml:"default_tier"`
	GreetingPatterns  []string `yaml:"greeting_patterns,omitempty"`
	GreetingMaxTokens int      `yaml:"greeting_max_tokens"`
	FastMaxWords      int      `yaml:"fast_max_words"`
	DeepKeywords      []string `yaml:"deep_keywords,omitempty"`
}

func (c *RouterConfig) SetDefaults() {
	if c.DefaultTier == "" {
		c.DefaultTier = "pro"
	}
	if c.GreetingMaxTokens == 0 {
		c.GreetingMaxTokens = 4
	}
	if c.FastMaxWords == 0 {
		c.FastMaxWords = 12
	}
}

func (c *RouterConfig) Validate() error {
	switch c.DefaultTier {
	case "fast", "pro", "deep":
		return nil
	case "greeting":
		// Never default substantive queries down to greeting.
		return fmt.Errorf("router: default_tier cannot be greeting")
	default:
		return fmt.Errorf("router: unknown default_tier %q", c.DefaultTier)
	}
}

// OrchestratorConfig configures the ReAct loop.
type OrchestratorConfig struct {
	// MaxIterations maps tier name to the Action-step cap.
	MaxIterations         map[string]int `yaml:"max_iterations_per_tier,omitempty"`
	OutputMinChars        int            `yaml:"output_min_chars"`
	ReasoningLeakPatterns []string       `yaml:"reasoning_leak_patterns,omitempty"`
	SystemPrompt          string         `yaml:"system_prompt,omitempty"`
	Domain                string         `yaml:"domain,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxIterations == nil {
		c.MaxIterations = map[string]int{
			"greeting": 0,
			"fast":     2,
			"pro":      4,
			"deep":     6,
		}
	}
	if c.OutputMinChars == 0 {
		c.OutputMinChars = 20
	}
	if c.Domain == "" {
		c.Domain = "Indonesian visas, taxes, company setup and legal matters"
	}
}

func (c *OrchestratorConfig) Validate() error {
	for tier, n := range c.MaxIterations {
		if n < 0 {
			return fmt.Errorf("orchestrator: negative iteration cap for tier %q", tier)
		}
	}
	for _, p := range c.ReasoningLeakPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("orchestrator: invalid leak pattern %q: %w", p, err)
		}
	}
	return nil
}

// LLMProviderConfig configures one model endpoint.
type LLMProviderConfig struct {
	Type        string  `yaml:"type"` // anthropic, openai, gemini, ollama
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Host        string  `yaml:"host,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Timeout is the per-attempt timeout in seconds.
	Timeout    int `yaml:"timeout"`
	MaxRetries int `yaml:"max_retries"`
	RetryDelay int `yaml:"retry_delay"`
	// ContextWindow is the model context size in tokens, used for budgeting.
	ContextWindow int `yaml:"context_window"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 128000
	}
}

// LLMConfig configures providers and the per-tier fallback cascades.
type LLMConfig struct {
	Providers map[string]*LLMProviderConfig `yaml:"providers"`
	// TierCascades maps a model tier (fast, pro, deep) to an ordered list
	// of provider names tried in sequence on retryable failure.
	TierCascades map[string][]string `yaml:"tier_cascades"`
}

func (c *LLMConfig) SetDefaults() {
	for _, p := range c.Providers {
		if p != nil {
			p.SetDefaults()
		}
	}
}

func (c *LLMConfig) Validate() error {
	for tier, cascade := range c.TierCascades {
		if len(cascade) == 0 {
			return fmt.Errorf("llm: empty cascade for tier %q", tier)
		}
		for _, name := range cascade {
			if _, ok := c.Providers[name]; !ok {
				return fmt.Errorf("llm: cascade for tier %q references unknown provider %q", tier, name)
			}
		}
	}
	return nil
}

// EmbedderConfig configures the embedding service client.
type EmbedderConfig struct {
	Type   string `yaml:"type"` // openai, ollama
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key,omitempty"`
	Host   string `yaml:"host,omitempty"`
	// Dimension is pinned; the provider must advertise the same value.
	Dimension  int `yaml:"dimension"`
	Timeout    int `yaml:"timeout"`
	MaxRetries int `yaml:"max_retries"`
	BatchSize  int `yaml:"batch_size"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// VectorStoreConfig configures the vector database provider.
type VectorStoreConfig struct {
	Type   string `yaml:"type"` // qdrant, chromem, pinecone
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
	// IndexHost is the Pinecone index endpoint.
	IndexHost string `yaml:"index_host,omitempty"`
	// Path is the chromem persistence directory (empty = in-memory).
	Path string `yaml:"path,omitempty"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "qdrant"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "qdrant", "chromem", "pinecone":
		return nil
	default:
		return fmt.Errorf("vector_store: unknown type %q", c.Type)
	}
}

// RetrievalConfig configures the retrieval pipeline stages.
type RetrievalConfig struct {
	RerankerEnabledTiers []string `yaml:"reranker_enabled_tiers,omitempty"`
	RerankMaxResults     int      `yaml:"rerank_max_results"`
	ParentExpansionTopM  int      `yaml:"parent_expansion_top_m"`
	// CacheTTL is the semantic cache time-to-live in seconds.
	CacheTTL        int     `yaml:"cache_ttl"`
	CacheMaxEntries int     `yaml:"cache_max_entries"`
	Threshold       float32 `yaml:"threshold"`
	TopK            int     `yaml:"top_k"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.RerankerEnabledTiers == nil {
		c.RerankerEnabledTiers = []string{"pro", "deep"}
	}
	if c.RerankMaxResults == 0 {
		c.RerankMaxResults = 20
	}
	if c.ParentExpansionTopM == 0 {
		c.ParentExpansionTopM = 3
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 3600
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 4096
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("retrieval: threshold must be in [0,1], got %f", c.Threshold)
	}
	return nil
}

// CacheTTLDuration returns the cache TTL as a duration.
func (c *RetrievalConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// RerankerEnabled reports whether reranking is mandatory for a tier.
func (c *RetrievalConfig) RerankerEnabled(tier string) bool {
	for _, t := range c.RerankerEnabledTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// MemoryConfig configures conversation history handling.
type MemoryConfig struct {
	// HistoryWindow is the number of recent messages loaded per turn.
	HistoryWindow int `yaml:"history_window"`
	// SummarizationTrigger is the message count past which older history
	// is expected to be summarized by the background workflow.
	SummarizationTrigger int `yaml:"summarization_trigger"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 20
	}
	if c.SummarizationTrigger == 0 {
		c.SummarizationTrigger = 40
	}
}

// PIIConfig configures redaction.
type PIIConfig struct {
	Patterns             []string `yaml:"patterns,omitempty"`
	RedactionPlaceholder string   `yaml:"redaction_placeholder"`
}

func (c *PIIConfig) SetDefaults() {
	if c.RedactionPlaceholder == "" {
		c.RedactionPlaceholder = "[REDACTED]"
	}
	if c.Patterns == nil {
		c.Patterns = []string{
			// Phone numbers (international and Indonesian formats)
			`\+?\d{1,3}[\s.-]?\(?\d{2,4}\)?[\s.-]?\d{3,4}[\s.-]?\d{3,4}`,
			// Indonesian NIK (16-digit national identity number)
			`\b\d{16}\b`,
			// Italian codice fiscale
			`\b[A-Z]{6}\d{2}[A-Z]\d{2}[A-Z]\d{3}[A-Z]\b`,
		}
	}
}

func (c *PIIConfig) Validate() error {
	for _, p := range c.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("pii: invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

// LimitsConfig configures request-level deadlines.
type LimitsConfig struct {
	// TurnDeadline is the whole-turn deadline in seconds.
	TurnDeadline int `yaml:"turn_deadline"`
	// ToolTimeoutDefault is the per-tool-call timeout in seconds, used
	// when a tool declares none.
	ToolTimeoutDefault int `yaml:"tool_timeout_default"`
	// ToolGracePeriod is how long an in-flight tool may run after
	// cancellation, in seconds.
	ToolGracePeriod int `yaml:"tool_grace_period"`
	// EventBuffer is the bounded outbound event channel capacity.
	EventBuffer int `yaml:"event_buffer"`
}

func (c *LimitsConfig) SetDefaults() {
	if c.TurnDeadline == 0 {
		c.TurnDeadline = 120
	}
	if c.ToolTimeoutDefault == 0 {
		c.ToolTimeoutDefault = 30
	}
	if c.ToolGracePeriod == 0 {
		c.ToolGracePeriod = 3
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
}

// TurnDeadlineDuration returns the turn deadline as a duration.
func (c *LimitsConfig) TurnDeadlineDuration() time.Duration {
	return time.Duration(c.TurnDeadline) * time.Second
}

// ToolTimeoutDuration returns the default tool timeout as a duration.
func (c *LimitsConfig) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeoutDefault) * time.Second
}

// ToolGraceDuration returns the cancellation grace window as a duration.
func (c *LimitsConfig) ToolGraceDuration() time.Duration {
	return time.Duration(c.ToolGracePeriod) * time.Second
}

// ToolConfig configures one registered tool.
type ToolConfig struct {
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled,omitempty"`
	// Timeout in seconds; 0 means the limits default.
	Timeout    int            `yaml:"timeout"`
	Idempotent bool           `yaml:"idempotent"`
	Config     map[string]any `yaml:"config,omitempty"`
}

// IsEnabled reports whether the tool should be registered.
func (c *ToolConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	Exporter       string `yaml:"exporter"` // prometheus, stdout, none
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "prometheus"
	}
}
