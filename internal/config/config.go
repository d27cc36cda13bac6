package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies the chat completion backend.
type Provider string

const (
	ProviderGroq      Provider = "groq"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderBedrock   Provider = "bedrock"
)

// DefaultSystemPrompt is the assistant's operating instructions, seeded as
// the first entry of every conversation context.
const DefaultSystemPrompt = `You are CopBot, an AI specialized in police records, judicial references, and law enforcement procedures (Tamil Nadu / Thoothukudi focus).

Answer queries thoroughly, referencing local knowledge. Be concise, helpful, and professional. Always maintain a respectful and authoritative tone suitable for citizen-police interactions.`

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Completion backend
	LLMProvider     Provider
	LLMModel        string
	GroqAPIKey      string
	GroqBaseURL     string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string

	// Conversation
	SystemPrompt      string
	UserID            string
	ContextMaxTurns   int
	CompletionTimeout time.Duration

	// Voice capture
	VoiceEnabled    bool
	VoiceLanguage   string
	VoiceCaptureCmd string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig mirrors Config for the optional YAML config file. Only fields
// that are set in the file override defaults; environment variables win over
// both.
type fileConfig struct {
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	GroqAPIKey      string `yaml:"groq_api_key"`
	GroqBaseURL     string `yaml:"groq_base_url"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OllamaHost      string `yaml:"ollama_host"`

	SystemPrompt      string `yaml:"system_prompt"`
	UserID            string `yaml:"user_id"`
	ContextMaxTurns   *int   `yaml:"context_max_turns"`
	CompletionTimeout string `yaml:"completion_timeout"`

	VoiceEnabled    *bool  `yaml:"voice_enabled"`
	VoiceLanguage   string `yaml:"voice_language"`
	VoiceCaptureCmd string `yaml:"voice_capture_cmd"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from defaults, then the optional YAML config file
// (COPBOT_CONFIG or ~/.config/copbot/config.yaml), then environment
// variables. Later sources win.
func Load() Config {
	cfg := Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "copbot",
		SurrealDBDatabase:  "chat",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		LLMProvider: ProviderGroq,
		LLMModel:    "llama3-8b-8192",
		GroqBaseURL: "https://api.groq.com/openai/v1",
		OllamaHost:  "http://localhost:11434",

		SystemPrompt:      DefaultSystemPrompt,
		ContextMaxTurns:   40,
		CompletionTimeout: 60 * time.Second,

		VoiceLanguage:   "en-US",
		VoiceCaptureCmd: "arecord -q -f S16_LE -r 16000 -c 1 -t raw -",

		LogFile:  "/tmp/copbot.log",
		LogLevel: slog.LevelInfo,
	}

	applyFile(&cfg, configFilePath())
	applyEnv(&cfg)

	return cfg
}

func configFilePath() string {
	if p := os.Getenv("COPBOT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "copbot", "config.yaml")
}

// applyFile merges the YAML config file into cfg. A missing or unreadable
// file is silently ignored; the file is optional.
func applyFile(cfg *Config, path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		slog.Warn("ignoring malformed config file", "path", path, "error", err)
		return
	}

	setIf(&cfg.SurrealDBURL, fc.SurrealDBURL)
	setIf(&cfg.SurrealDBNamespace, fc.SurrealDBNamespace)
	setIf(&cfg.SurrealDBDatabase, fc.SurrealDBDatabase)
	setIf(&cfg.SurrealDBUser, fc.SurrealDBUser)
	setIf(&cfg.SurrealDBPass, fc.SurrealDBPass)
	setIf(&cfg.SurrealDBAuthLevel, fc.SurrealDBAuthLevel)

	if fc.LLMProvider != "" {
		cfg.LLMProvider = Provider(fc.LLMProvider)
	}
	setIf(&cfg.LLMModel, fc.LLMModel)
	setIf(&cfg.GroqAPIKey, fc.GroqAPIKey)
	setIf(&cfg.GroqBaseURL, fc.GroqBaseURL)
	setIf(&cfg.OpenAIAPIKey, fc.OpenAIAPIKey)
	setIf(&cfg.AnthropicAPIKey, fc.AnthropicAPIKey)
	setIf(&cfg.OllamaHost, fc.OllamaHost)

	setIf(&cfg.SystemPrompt, fc.SystemPrompt)
	setIf(&cfg.UserID, fc.UserID)
	if fc.ContextMaxTurns != nil {
		cfg.ContextMaxTurns = *fc.ContextMaxTurns
	}
	if fc.CompletionTimeout != "" {
		if d, err := time.ParseDuration(fc.CompletionTimeout); err == nil {
			cfg.CompletionTimeout = d
		}
	}

	if fc.VoiceEnabled != nil {
		cfg.VoiceEnabled = *fc.VoiceEnabled
	}
	setIf(&cfg.VoiceLanguage, fc.VoiceLanguage)
	setIf(&cfg.VoiceCaptureCmd, fc.VoiceCaptureCmd)

	setIf(&cfg.LogFile, fc.LogFile)
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
}

func applyEnv(cfg *Config) {
	envIf(&cfg.SurrealDBURL, "SURREALDB_URL")
	envIf(&cfg.SurrealDBNamespace, "SURREALDB_NAMESPACE")
	envIf(&cfg.SurrealDBDatabase, "SURREALDB_DATABASE")
	envIf(&cfg.SurrealDBUser, "SURREALDB_USER")
	envIf(&cfg.SurrealDBPass, "SURREALDB_PASS")
	envIf(&cfg.SurrealDBAuthLevel, "SURREALDB_AUTH_LEVEL")

	if v := os.Getenv("COPBOT_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = Provider(v)
	}
	envIf(&cfg.LLMModel, "COPBOT_LLM_MODEL")
	envIf(&cfg.GroqAPIKey, "GROQ_API_KEY")
	envIf(&cfg.GroqBaseURL, "GROQ_BASE_URL")
	envIf(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envIf(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envIf(&cfg.OllamaHost, "OLLAMA_HOST")

	envIf(&cfg.SystemPrompt, "COPBOT_SYSTEM_PROMPT")
	envIf(&cfg.UserID, "COPBOT_USER_ID")
	if v := os.Getenv("COPBOT_CONTEXT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ContextMaxTurns = n
		}
	}
	if v := os.Getenv("COPBOT_COMPLETION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CompletionTimeout = d
		}
	}

	if v := os.Getenv("COPBOT_VOICE_ENABLED"); v != "" {
		cfg.VoiceEnabled = v == "true" || v == "1"
	}
	envIf(&cfg.VoiceLanguage, "COPBOT_VOICE_LANGUAGE")
	envIf(&cfg.VoiceCaptureCmd, "COPBOT_VOICE_CAPTURE_CMD")

	envIf(&cfg.LogFile, "COPBOT_LOG_FILE")
	if v := os.Getenv("COPBOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
}

func setIf(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func envIf(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
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
