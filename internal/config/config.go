// Package config loads server and client settings from defaults, an optional
// YAML file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	// ProviderOffline generates canned arguments without a model. Used for
	// development and demos.
	ProviderOffline = "offline"
)

// Config holds all configuration values.
type Config struct {
	Server   ServerConfig        `mapstructure:"server"`
	Client   ClientConfig        `mapstructure:"client"`
	Store    StoreConfig         `mapstructure:"store"`
	LLM      LLMConfig           `mapstructure:"llm"`
	Policies PolicyConfig        `mapstructure:"policies"`
	Debate   debate.SystemConfig `mapstructure:"debate"`
	Log      LogConfig           `mapstructure:"log"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	// BufferSize is the per-subscriber message buffer of a session log.
	BufferSize int `mapstructure:"buffer_size"`
}

// ClientConfig configures the CLI.
type ClientConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// StoreConfig configures the SurrealDB archive. An empty URL disables it.
type StoreConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	User      string `mapstructure:"user"`
	Pass      string `mapstructure:"pass"`
	AuthLevel string `mapstructure:"auth_level"`
}

// LLMConfig selects and configures the generation model.
type LLMConfig struct {
	Provider        string  `mapstructure:"provider"`
	Model           string  `mapstructure:"model"`
	OllamaHost      string  `mapstructure:"ollama_host"`
	OpenAIAPIKey    string  `mapstructure:"openai_api_key"`
	AnthropicAPIKey string  `mapstructure:"anthropic_api_key"`
	AWSRegion       string  `mapstructure:"aws_region"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
}

// PolicyConfig points at the Markdown policy library.
type PolicyConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig configures SetupLogger.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() slog.Level {
	return parseLogLevel(l.Level)
}

// Load reads configuration from DEBATE_CONFIG (if set) and the environment.
func Load() (Config, error) {
	return LoadFile(os.Getenv("DEBATE_CONFIG"))
}

// LoadFile reads configuration from a YAML file and the environment. An empty
// path skips the file. Environment variables win over the file.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DEBATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	if err := c.Debate.Validate(); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderBedrock, ProviderOffline:
	default:
		return fmt.Errorf("%w: unsupported LLM provider %q", debate.ErrConfiguration, c.LLM.Provider)
	}
	if c.Server.BufferSize < 1 {
		return fmt.Errorf("%w: server.buffer_size must be positive", debate.ErrConfiguration)
	}
	if c.Server.JanitorInterval <= 0 {
		return fmt.Errorf("%w: server.janitor_interval must be positive", debate.ErrConfiguration)
	}
	return nil
}

// Names used by the SurrealDB and Ollama tooling, accepted next to the
// DEBATE_* variables.
var legacyEnv = map[string][]string{
	"store.url":             {"DEBATE_STORE_URL", "SURREALDB_URL"},
	"store.namespace":       {"DEBATE_STORE_NAMESPACE", "SURREALDB_NAMESPACE"},
	"store.database":        {"DEBATE_STORE_DATABASE", "SURREALDB_DATABASE"},
	"store.user":            {"DEBATE_STORE_USER", "SURREALDB_USER"},
	"store.pass":            {"DEBATE_STORE_PASS", "SURREALDB_PASS"},
	"store.auth_level":      {"DEBATE_STORE_AUTH_LEVEL", "SURREALDB_AUTH_LEVEL"},
	"llm.provider":          {"DEBATE_LLM_PROVIDER", "LLM_PROVIDER"},
	"llm.model":             {"DEBATE_LLM_MODEL", "LLM_MODEL"},
	"llm.ollama_host":       {"DEBATE_LLM_OLLAMA_HOST", "OLLAMA_HOST"},
	"llm.openai_api_key":    {"DEBATE_LLM_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"llm.anthropic_api_key": {"DEBATE_LLM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	"llm.aws_region":        {"DEBATE_LLM_AWS_REGION", "AWS_REGION"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.janitor_interval", time.Minute)
	v.SetDefault("server.buffer_size", 256)

	v.SetDefault("client.server_url", "http://localhost:8080")

	v.SetDefault("store.url", "")
	v.SetDefault("store.namespace", "debate")
	v.SetDefault("store.database", "archive")
	v.SetDefault("store.user", "root")
	v.SetDefault("store.pass", "root")
	v.SetDefault("store.auth_level", "root")

	v.SetDefault("llm.provider", ProviderOffline)
	v.SetDefault("llm.model", "llama3.2")
	v.SetDefault("llm.ollama_host", "http://localhost:11434")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.aws_region", "us-east-1")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 400)

	v.SetDefault("policies.dir", "policies")

	d := debate.DefaultSystemConfig()
	v.SetDefault("debate.max_rounds_per_topic", d.MaxRoundsPerTopic)
	v.SetDefault("debate.max_topics", d.MaxTopics)
	v.SetDefault("debate.generation_timeout", d.GenerationTimeout)
	v.SetDefault("debate.turn_delay", 500*time.Millisecond)
	v.SetDefault("debate.interjection_responders", d.InterjectionResponders)
	v.SetDefault("debate.interjection_hold", d.InterjectionHold)
	v.SetDefault("debate.balance_threshold", d.BalanceThreshold)
	v.SetDefault("debate.context_window", d.ContextWindow)
	v.SetDefault("debate.retention_window", d.RetentionWindow)
	v.SetDefault("debate.control_policy", string(d.ControlPolicy))

	v.SetDefault("log.file", "/tmp/policy-debate.log")
	v.SetDefault("log.level", "INFO")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
