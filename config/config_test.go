package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/escaperoom/llm"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":5001", cfg.Listen)
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL.Std())
	assert.Equal(t, []string{llm.DefaultModel, llm.FallbackModel}, cfg.LLM.Models)

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.True(t, errors.Is(err, llm.ErrMissingAPIKey))

	cfg.LLM.APIKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "escaperoom.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(`
listen: ":9000"
debug: true
session:
  backend: redis
  redis_url: redis://localhost:6379/0
  ttl: 1d
llm:
  api_key: secret
  models: [model-a, model-b, model-c]
  timeout: 1m30s
  pricing: true
`), 0o600))

	cfg, err := Load(fn)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.True(t, cfg.Debug)
	assert.Equal(t, BackendRedis, cfg.Session.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL.Std())
	assert.Equal(t, []string{"model-a", "model-b", "model-c"}, cfg.LLM.Models)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout.Std())
	assert.True(t, cfg.LLM.Pricing)
	// untouched keys keep their defaults
	assert.Equal(t, llm.DefaultBaseURL, cfg.LLM.BaseURL)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	fn := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(fn, []byte("session:\n  ttl: forever\n"), 0o600))
	_, err = Load(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDurationRoundTrip(t *testing.T) {
	type doc struct {
		TTL Duration `yaml:"ttl"`
	}
	out, err := yaml.Marshal(doc{Duration(36 * time.Hour)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "1d")

	var back doc
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, 36*time.Hour, back.TTL.Std())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookupMap(map[string]string{
		"ESCAPEROOM_LISTEN":          ":7000",
		"ESCAPEROOM_DEBUG":           "true",
		"ESCAPEROOM_SESSION_BACKEND": "redis",
		"REDIS_URL":                  "redis://cache:6379",
		"ESCAPEROOM_SESSION_TTL":     "45m",
		"API_KEY":                    "fallback-key",
		"ESCAPEROOM_MODELS":          " a , b ,, c ",
		"ESCAPEROOM_LLM_TIMEOUT":     "10s",
		"ESCAPEROOM_PRICING":         "1",
	})))
	assert.Equal(t, ":7000", cfg.Listen)
	assert.True(t, cfg.Debug)
	assert.Equal(t, BackendRedis, cfg.Session.Backend)
	assert.Equal(t, "redis://cache:6379", cfg.Session.RedisURL)
	assert.Equal(t, 45*time.Minute, cfg.Session.TTL.Std())
	assert.Equal(t, "fallback-key", cfg.LLM.APIKey)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.LLM.Models)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout.Std())
	assert.True(t, cfg.LLM.Pricing)

	require.NoError(t, cfg.ApplyEnv(lookupMap(map[string]string{
		"API_KEY":            "fallback-key",
		"ESCAPEROOM_API_KEY": "prefixed-key",
	})))
	assert.Equal(t, "prefixed-key", cfg.LLM.APIKey)
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv(lookupMap(map[string]string{"ESCAPEROOM_DEBUG": "maybe"})))
	assert.Error(t, cfg.ApplyEnv(lookupMap(map[string]string{"ESCAPEROOM_SESSION_TTL": "soon"})))
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.LLM.APIKey = "key"

	cases := map[string]func(*Config){
		"no listen":         func(c *Config) { c.Listen = "" },
		"unknown backend":   func(c *Config) { c.Session.Backend = "etcd" },
		"redis without url": func(c *Config) { c.Session.Backend = BackendRedis },
		"zero ttl":          func(c *Config) { c.Session.TTL = 0 },
		"no models":         func(c *Config) { c.LLM.Models = nil },
		"zero timeout":      func(c *Config) { c.LLM.Timeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			cfg.LLM.Models = append([]string(nil), valid.LLM.Models...)
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestLLMConfig(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "key"
	cfg.LLM.Models = []string{"only"}
	cfg.LLM.Timeout = Duration(5 * time.Second)

	out := cfg.LLMConfig()
	assert.Equal(t, "key", out.APIKey)
	assert.Equal(t, []string{"only"}, out.Models)
	assert.Equal(t, 5*time.Second, out.Timeout)
	assert.Equal(t, 2, out.Retry.MaxRetries)
}
