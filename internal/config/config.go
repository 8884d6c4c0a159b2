package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that carry secrets. They override the config file.
const (
	EnvChannelSecret      = "LINE_CHANNEL_SECRET"
	EnvChannelAccessToken = "LINE_CHANNEL_ACCESS_TOKEN"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvGeminiAPIKey       = "GEMINI_API_KEY"
)

// Config is the root configuration for linebot.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Line       LineConfig       `yaml:"line"`
	Bot        BotConfig        `yaml:"bot"`
	Generation GenerationConfig `yaml:"generation"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"min=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"min=0"`
}

type LineConfig struct {
	ChannelSecret      string `yaml:"channelSecret" validate:"required"`
	ChannelAccessToken string `yaml:"channelAccessToken" validate:"required"`
	APIEndpoint        string `yaml:"apiEndpoint,omitempty" validate:"omitempty,url"`
	CallbackPath       string `yaml:"callbackPath" validate:"required,startswith=/"`
}

type BotConfig struct {
	Mode     string         `yaml:"mode" validate:"oneof=rag echo"` // "rag" | "echo"
	Messages MessagesConfig `yaml:"messages"`
}

// MessagesConfig holds the fixed user-facing replies.
type MessagesConfig struct {
	NotReady   string `yaml:"notReady" validate:"required"`
	Apology    string `yaml:"apology" validate:"required"`
	EchoPrefix string `yaml:"echoPrefix"`
	Welcome    string `yaml:"welcome,omitempty"` // empty = follow events are ignored
}

type GenerationConfig struct {
	Provider     string        `yaml:"provider" validate:"oneof=openai gemini"`
	APIKey       string        `yaml:"apiKey,omitempty"`
	APIBase      string        `yaml:"apiBase,omitempty" validate:"omitempty,url"`
	Model        string        `yaml:"model,omitempty"` // empty = provider default
	Temperature  float64       `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens    int           `yaml:"maxTokens" validate:"min=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"min=1s,max=5m"`
	SystemPrompt string        `yaml:"systemPrompt"`
	TopK         int           `yaml:"topK" validate:"min=1,max=50"`
}

// KnowledgeConfig configures the document index.
type KnowledgeConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DocumentsDir     string        `yaml:"documentsDir"`
	Extensions       []string      `yaml:"extensions" validate:"dive,startswith=."`
	ChunkSize        int           `yaml:"chunkSize" validate:"min=1"`     // runes per chunk
	ChunkOverlap     int           `yaml:"chunkOverlap" validate:"min=0"`  // runes shared with the next chunk
	Embedder         string        `yaml:"embedder" validate:"oneof=tfidf openai gemini"`
	EmbeddingModel   string        `yaml:"embeddingModel,omitempty"`
	EmbeddingAPIKey  string        `yaml:"embeddingApiKey,omitempty"`
	EmbedBatchSize   int           `yaml:"embedBatchSize" validate:"min=1,max=100"`
	EmbedConcurrency int           `yaml:"embedConcurrency" validate:"min=1,max=32"`
	FailOnError      bool          `yaml:"failOnError"`
	RefreshInterval  time.Duration `yaml:"refreshInterval" validate:"min=0"` // 0 = build once
}

type WebhookConfig struct {
	MaxBodyBytes    int64         `yaml:"maxBodyBytes" validate:"min=1"`
	Dedupe          bool          `yaml:"dedupe"`
	DedupeDBPath    string        `yaml:"dedupeDbPath"`
	DedupeRetention time.Duration `yaml:"dedupeRetention" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "linebot.yaml"

// Load reads the YAML config at path (optional when empty), applies the
// secret environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated is Load without validation, for local commands that do not
// talk to LINE.
func LoadUnvalidated(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	cfg.Knowledge.DocumentsDir = ExpandPath(cfg.Knowledge.DocumentsDir)
	cfg.Webhook.DedupeDBPath = ExpandPath(cfg.Webhook.DedupeDBPath)
	return cfg, nil
}

// ApplyEnv copies secrets from the environment into cfg. Empty variables are ignored.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvChannelSecret); v != "" {
		cfg.Line.ChannelSecret = v
	}
	if v := os.Getenv(EnvChannelAccessToken); v != "" {
		cfg.Line.ChannelAccessToken = v
	}
	if key := os.Getenv(apiKeyEnv(cfg.Generation.Provider)); key != "" {
		cfg.Generation.APIKey = key
	}
	if cfg.Knowledge.Embedder != "tfidf" && cfg.Knowledge.Embedder != cfg.Generation.Provider {
		if key := os.Getenv(apiKeyEnv(cfg.Knowledge.Embedder)); key != "" {
			cfg.Knowledge.EmbeddingAPIKey = key
		}
	}
}

func apiKeyEnv(provider string) string {
	if provider == "gemini" {
		return EnvGeminiAPIKey
	}
	return EnvOpenAIAPIKey
}

// EmbeddingKey returns the API key used by remote embedders. It falls back to
// the generation key when both use the same provider.
func (c *Config) EmbeddingKey() string {
	if c.Knowledge.EmbeddingAPIKey != "" {
		return c.Knowledge.EmbeddingAPIKey
	}
	if c.Knowledge.Embedder == c.Generation.Provider {
		return c.Generation.APIKey
	}
	return ""
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the cross-field rules the tags
// cannot express. All problems are reported together.
func Validate(cfg *Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), redact(fe)))
		}
	}

	if cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be smaller than knowledge.chunkSize")
	}
	if cfg.Bot.Mode == "rag" && cfg.Generation.APIKey == "" {
		errs = append(errs, fmt.Sprintf("generation.apiKey is required (set %s)", apiKeyEnv(cfg.Generation.Provider)))
	}
	if cfg.Bot.Mode == "rag" && cfg.Knowledge.Enabled && cfg.Knowledge.DocumentsDir == "" {
		errs = append(errs, "knowledge.documentsDir is required when knowledge is enabled")
	}
	if cfg.Knowledge.Enabled && cfg.Knowledge.Embedder != "tfidf" && cfg.EmbeddingKey() == "" {
		errs = append(errs, fmt.Sprintf("knowledge.embeddingApiKey is required for the %s embedder", cfg.Knowledge.Embedder))
	}
	if cfg.Webhook.Dedupe && cfg.Webhook.DedupeDBPath == "" {
		errs = append(errs, "webhook.dedupeDbPath is required when dedupe is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// fieldPath turns "Config.Line.ChannelSecret" into "line.channelSecret".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

func redact(fe validator.FieldError) any {
	switch fe.Field() {
	case "ChannelSecret", "ChannelAccessToken", "APIKey", "EmbeddingAPIKey":
		return "***"
	}
	return fe.Value()
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
