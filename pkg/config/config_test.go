package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_JSONDefaults(t *testing.T) {
	cfg, err := Parse(".json", []byte(`{
		"providers": {"openai": {"api_key": "k", "model": "gpt-4o-mini", "enabled": true}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "intake", cfg.App.Name)
	assert.Equal(t, MemorySQLite, cfg.Memory.Type)
	assert.Equal(t, 12*time.Hour, cfg.Memory.TTL.Std())
	assert.Equal(t, 6, cfg.Memory.HistoryWindow)
	assert.Equal(t, SourceSchema, cfg.Workflow.QuestionSource)
	assert.Equal(t, "start", cfg.Workflow.StartToken)
	assert.Equal(t, 25*time.Second, cfg.Workflow.GeneratorTimeout.Std())

	httpCfg, ok := cfg.GetHTTPConfig()
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8002", httpCfg.Addr)
	assert.Equal(t, []string{"*"}, httpCfg.CORSOrigins)

	_, ok = cfg.GetTelegramConfig()
	assert.False(t, ok)
}

func TestParse_YAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("INTAKE_TEST_KEY", "secret")
	cfg, err := Parse(".yaml", []byte(`
app:
  name: tax-intake
gateways:
  telegram:
    enabled: true
    token: ${INTAKE_TEST_KEY}
providers:
  anthropic:
    api_key: ${INTAKE_TEST_KEY}
    model: claude-haiku
    enabled: true
memory:
  type: redis
  redis_addr: localhost:6379
  ttl: 30m
workflow:
  question_source: llm
  generator_timeout: 10s
  generator_fallback: true
`))
	require.NoError(t, err)

	assert.Equal(t, "tax-intake", cfg.App.Name)
	tg, ok := cfg.GetTelegramConfig()
	require.True(t, ok)
	assert.Equal(t, "secret", tg.Token)
	assert.Equal(t, "individual", tg.DefaultReference)
	assert.Equal(t, 30*time.Minute, cfg.Memory.TTL.Std())
	assert.Equal(t, 10*time.Second, cfg.Workflow.GeneratorTimeout.Std())
	assert.True(t, cfg.Workflow.GeneratorFallback)

	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "anthropic", name)
	assert.Equal(t, "secret", p.APIKey)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown memory":        `{"memory": {"type": "mongo"}}`,
		"redis without address": `{"memory": {"type": "redis"}}`,
		"unknown source":        `{"workflow": {"question_source": "magic"}}`,
		"chat gateway no token": `{"gateways": {"discord": {"enabled": true}}}`,
		"bad duration":          `{"memory": {"ttl": "soon"}}`,
		"bad denied pattern":    `{"governance": {"denied_patterns": ["(unclosed"]}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(".json", []byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParse_Governance(t *testing.T) {
	cfg, err := Parse(".yaml", []byte(`
governance:
  denied_tools: [update_client_fields]
  denied_patterns: ['(?i)drop\s+table']
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"update_client_fields"}, cfg.Governance.DeniedTools)
	assert.Equal(t, []string{`(?i)drop\s+table`}, cfg.Governance.DeniedPatterns)

	cfg, err = Parse(".json", []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Governance.DeniedTools)
}

func TestGetDefaultProvider_IsDeterministic(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{
		"openrouter": {Enabled: true, Model: "b"},
		"ollama":     {Enabled: false},
		"openai":     {Enabled: true, Model: "a"},
	}}
	for i := 0; i < 10; i++ {
		name, p := cfg.GetDefaultProvider()
		assert.Equal(t, "openai", name)
		assert.Equal(t, "a", p.Model)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"memory": {"ttl": 60}}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Memory.TTL.Std())

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
