package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/escaperoom/llm"
	"github.com/agentuity/escaperoom/session"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	EnvPrefix = "ESCAPEROOM_"
)

// Duration is a time.Duration that reads extended units such as "1d" or "1h30m" from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return str2duration.String(time.Duration(d)) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func parseDuration(s string) (time.Duration, error) {
	v, err := str2duration.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return v, nil
}

type Session struct {
	Backend  string   `yaml:"backend"`
	RedisURL string   `yaml:"redis_url"`
	TTL      Duration `yaml:"ttl"`
	Prefix   string   `yaml:"prefix"`
}

type LLM struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Models      []string `yaml:"models"`
	FastModel   string   `yaml:"fast_model"`
	VisionModel string   `yaml:"vision_model"`
	Timeout     Duration `yaml:"timeout"`
	// Pricing enables the periodic model price refresh and per call cost logging.
	Pricing bool `yaml:"pricing"`
}

// Config is the server configuration.
type Config struct {
	Listen    string  `yaml:"listen"`
	Debug     bool    `yaml:"debug"`
	LogLevel  string  `yaml:"log_level"`
	LogFormat string  `yaml:"log_format"`
	Session   Session `yaml:"session"`
	LLM       LLM     `yaml:"llm"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Listen:    ":5001",
		LogLevel:  "info",
		LogFormat: "console",
		Session: Session{
			Backend: BackendMemory,
			TTL:     Duration(session.DefaultTTL),
			Prefix:  session.DefaultPrefix,
		},
		LLM: LLM{
			BaseURL:     llm.DefaultBaseURL,
			Models:      []string{llm.DefaultModel, llm.FallbackModel},
			FastModel:   llm.DefaultModel,
			VisionModel: llm.DefaultModel,
			Timeout:     Duration(llm.DefaultTimeout),
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ApplyEnv overlays ESCAPEROOM_* variables read through lookup. The API key
// and base URL also fall back to the unprefixed API_KEY and API_BASE_URL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(names ...string) (string, bool) {
		for _, name := range names {
			if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}
	if v, ok := get(EnvPrefix + "LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := get(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sDEBUG", EnvPrefix)
		}
		c.Debug = b
	}
	if v, ok := get(EnvPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get(EnvPrefix + "LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := get(EnvPrefix + "SESSION_BACKEND"); ok {
		c.Session.Backend = v
	}
	if v, ok := get(EnvPrefix+"REDIS_URL", "REDIS_URL"); ok {
		c.Session.RedisURL = v
	}
	if v, ok := get(EnvPrefix + "SESSION_TTL"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%sSESSION_TTL", EnvPrefix)
		}
		c.Session.TTL = Duration(d)
	}
	if v, ok := get(EnvPrefix+"API_KEY", "API_KEY"); ok {
		c.LLM.APIKey = v
	}
	if v, ok := get(EnvPrefix+"API_BASE_URL", "API_BASE_URL"); ok {
		c.LLM.BaseURL = v
	}
	if v, ok := get(EnvPrefix + "MODELS"); ok {
		c.LLM.Models = splitList(v)
	}
	if v, ok := get(EnvPrefix + "FAST_MODEL"); ok {
		c.LLM.FastModel = v
	}
	if v, ok := get(EnvPrefix + "VISION_MODEL"); ok {
		c.LLM.VisionModel = v
	}
	if v, ok := get(EnvPrefix + "LLM_TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%sLLM_TIMEOUT", EnvPrefix)
		}
		c.LLM.Timeout = Duration(d)
	}
	if v, ok := get(EnvPrefix + "PRICING"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sPRICING", EnvPrefix)
		}
		c.LLM.Pricing = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.Mark(errors.New("listen address is required"), ErrInvalidConfig)
	}
	switch c.Session.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Session.RedisURL == "" {
			return errors.Mark(errors.New("redis session backend requires a redis url"), ErrInvalidConfig)
		}
	default:
		return errors.Mark(errors.Newf("unknown session backend %q", c.Session.Backend), ErrInvalidConfig)
	}
	if c.Session.TTL <= 0 {
		return errors.Mark(errors.New("session ttl must be positive"), ErrInvalidConfig)
	}
	if c.LLM.APIKey == "" {
		return errors.Mark(llm.ErrMissingAPIKey, ErrInvalidConfig)
	}
	if len(c.LLM.Models) == 0 {
		return errors.Mark(errors.New("at least one model is required"), ErrInvalidConfig)
	}
	if c.LLM.Timeout <= 0 {
		return errors.Mark(errors.New("llm timeout must be positive"), ErrInvalidConfig)
	}
	return nil
}

// LLMConfig converts the LLM section into a client configuration.
func (c Config) LLMConfig() llm.Config {
	out := llm.DefaultConfig()
	out.BaseURL = c.LLM.BaseURL
	out.APIKey = c.LLM.APIKey
	out.Models = append([]string(nil), c.LLM.Models...)
	out.FastModel = c.LLM.FastModel
	out.VisionModel = c.LLM.VisionModel
	out.Timeout = c.LLM.Timeout.Std()
	return out
}
