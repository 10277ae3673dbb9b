package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_VS_HOST", "qdrant.internal")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
vector_store:
  type: qdrant
  host: ${TEST_VS_HOST}
llm:
  providers:
    haiku:
      type: anthropic
      model: claude-haiku
  tier_cascades:
    fast: [haiku]
collections:
  visa_oracle:
    k: 5
    precedence: 10
    namespace: 6ba7b810-9dad-11d1-80b4-00c04fd430c8
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Host)
	assert.Equal(t, "pro", cfg.Router.DefaultTier)
	assert.Equal(t, 20, cfg.Memory.HistoryWindow)

	col := cfg.Collections["visa_oracle"]
	require.NotNil(t, col)
	assert.Equal(t, "visa_oracle", col.Name)
	assert.Equal(t, 5, col.TopK)
	assert.True(t, col.IsEnabled())
}

func TestLoad_EnvDefaultSyntax(t *testing.T) {
	os.Unsetenv("TEST_MISSING_VAR")

	out := expandEnvVars("host: ${TEST_MISSING_VAR:-localhost}")
	assert.Equal(t, "host: localhost", out)

	t.Setenv("TEST_PRESENT_VAR", "remote")
	out = expandEnvVars("host: ${TEST_PRESENT_VAR:-localhost}")
	assert.Equal(t, "host: remote", out)
}

func TestValidate_RejectsBadNamespace(t *testing.T) {
	cfg := Default()
	cfg.Collections = map[string]*CollectionConfig{
		"bad": {TopK: 5, Namespace: "not-a-uuid"},
	}
	cfg.SetDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespace")
}

func TestValidate_RejectsGreetingDefaultTier(t *testing.T) {
	cfg := Default()
	cfg.Router.DefaultTier = "greeting"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_tier")
}

func TestValidate_CascadeReferencesKnownProviders(t *testing.T) {
	cfg := Default()
	cfg.LLM.Providers = map[string]*LLMProviderConfig{
		"haiku": {Type: "anthropic", Model: "claude-haiku"},
	}
	cfg.LLM.TierCascades = map[string][]string{
		"fast": {"haiku", "ghost"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := &DatabaseConfig{Driver: "postgres", Host: "db", Database: "nz", Username: "app", SSLMode: "disable"}
	pg.SetDefaults()
	assert.Contains(t, pg.DSN(), "host=db port=5432 dbname=nz user=app")

	lite := &DatabaseConfig{Driver: "sqlite", Database: "/tmp/nz.db"}
	lite.SetDefaults()
	assert.Equal(t, "/tmp/nz.db", lite.DSN())
	assert.Equal(t, "sqlite3", lite.DriverName())
	assert.Equal(t, "sqlite", lite.Dialect())
}

func TestLimitsConfig_Durations(t *testing.T) {
	var limits LimitsConfig
	limits.SetDefaults()

	assert.Equal(t, "2m0s", limits.TurnDeadlineDuration().String())
	assert.Equal(t, "30s", limits.ToolTimeoutDuration().String())
}

func TestOrchestratorConfig_DefaultIterationCaps(t *testing.T) {
	var oc OrchestratorConfig
	oc.SetDefaults()

	assert.Equal(t, 0, oc.MaxIterations["greeting"])
	assert.Equal(t, 2, oc.MaxIterations["fast"])
	assert.Equal(t, 4, oc.MaxIterations["pro"])
	assert.Equal(t, 6, oc.MaxIterations["deep"])
}
