package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/mock-interviewer/internal/llm"
)

// EnvPrefix is the namespace prefix for all mock-interviewer environment variables.
const EnvPrefix = "MOCK_INTERVIEWER_"

const (
	VoiceRelay    = "relay"
	VoiceDeepgram = "deepgram"
	VoicePush     = "push"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	LLM      LLM      `yaml:"llm"`
	Voice    Voice    `yaml:"voice"`
	Dispatch Dispatch `yaml:"dispatch"`
	Feedback Feedback `yaml:"feedback"`
	Session  Session  `yaml:"session"`
	GDrive   GDrive   `yaml:"gdrive"`
	LogLevel string   `yaml:"log_level"`
	Tracing  bool     `yaml:"tracing"`

	// Secrets, env vars only.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	VoiceAPIKey     string `yaml:"-"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Storage struct {
	DBPath        string `yaml:"db_path"`
	TranscriptDir string `yaml:"transcript_dir"`
}

type LLM struct {
	// Model is a provider/model reference used for scoring.
	Model string `yaml:"model"`
	// QuestionsModel defaults to Model.
	QuestionsModel string `yaml:"questions_model"`
	BaseURL        string `yaml:"base_url"`
	MaxTokens      int    `yaml:"max_tokens"`
}

type Voice struct {
	Provider               string   `yaml:"provider"`
	RelayURL               string   `yaml:"relay_url"`
	GenerateWorkflowID     string   `yaml:"generate_workflow_id"`
	InterviewerAssistantID string   `yaml:"interviewer_assistant_id"`
	Deepgram               Deepgram `yaml:"deepgram"`
}

type Deepgram struct {
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
}

type Dispatch struct {
	PollAttempts int    `yaml:"poll_attempts"`
	PollInterval string `yaml:"poll_interval"`
}

type Feedback struct {
	MaxTranscriptTokens int `yaml:"max_transcript_tokens"`
}

type Session struct {
	// IdleTimeout ends a call after this much silence. Empty disables it.
	IdleTimeout string `yaml:"idle_timeout"`
	Retention   string `yaml:"retention"`
}

type GDrive struct {
	FolderID        string `yaml:"folder_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

func defaults() Config {
	return Config{
		Server:  Server{Addr: ":8080"},
		Storage: Storage{DBPath: "data/mock-interviewer.db", TranscriptDir: "data/transcripts"},
		LLM:     LLM{Model: "gemini/gemini-2.0-flash-001"},
		Voice: Voice{
			Provider: VoiceRelay,
			Deepgram: Deepgram{Model: "nova-2", Language: "en-US", SampleRate: 16000},
		},
		Dispatch: Dispatch{PollAttempts: 3, PollInterval: "2s"},
		Feedback: Feedback{MaxTranscriptTokens: 100000},
		Session:  Session{IdleTimeout: "2m", Retention: "10m"},
		GDrive:   GDrive{CredentialsFile: "./service-account.json"},
		LogLevel: "info",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// QuestionsModel returns the model used for question generation.
func (c *Config) QuestionsModel() string {
	if strings.TrimSpace(c.LLM.QuestionsModel) != "" {
		return c.LLM.QuestionsModel
	}
	return c.LLM.Model
}

// APIKeyFor returns the secret for an LLM provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// ParsedPollInterval falls back to 2s if the value is invalid.
func (c *Config) ParsedPollInterval() time.Duration {
	return parseDuration(c.Dispatch.PollInterval, 2*time.Second)
}

// ParsedIdleTimeout returns zero when the idle watchdog is disabled.
func (c *Config) ParsedIdleTimeout() time.Duration {
	if strings.TrimSpace(c.Session.IdleTimeout) == "" {
		return 0
	}
	return parseDuration(c.Session.IdleTimeout, 2*time.Minute)
}

func (c *Config) ParsedRetention() time.Duration {
	return parseDuration(c.Session.Retention, 10*time.Minute)
}

// SlogLevel maps log_level onto slog, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("ADDR", &cfg.Server.Addr)
	str("DB_PATH", &cfg.Storage.DBPath)
	str("TRANSCRIPT_DIR", &cfg.Storage.TranscriptDir)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("QUESTIONS_MODEL", &cfg.LLM.QuestionsModel)
	str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	num("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	str("VOICE_PROVIDER", &cfg.Voice.Provider)
	str("VOICE_RELAY_URL", &cfg.Voice.RelayURL)
	str("GENERATE_WORKFLOW_ID", &cfg.Voice.GenerateWorkflowID)
	str("INTERVIEWER_ASSISTANT_ID", &cfg.Voice.InterviewerAssistantID)
	str("DEEPGRAM_MODEL", &cfg.Voice.Deepgram.Model)
	str("DEEPGRAM_LANGUAGE", &cfg.Voice.Deepgram.Language)
	num("DEEPGRAM_SAMPLE_RATE", &cfg.Voice.Deepgram.SampleRate)
	num("POLL_ATTEMPTS", &cfg.Dispatch.PollAttempts)
	str("POLL_INTERVAL", &cfg.Dispatch.PollInterval)
	num("MAX_TRANSCRIPT_TOKENS", &cfg.Feedback.MaxTranscriptTokens)
	str("IDLE_TIMEOUT", &cfg.Session.IdleTimeout)
	str("SESSION_RETENTION", &cfg.Session.Retention)
	str("GDRIVE_FOLDER_ID", &cfg.GDrive.FolderID)
	str("GOOGLE_CREDENTIALS_FILE", &cfg.GDrive.CredentialsFile)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v := os.Getenv(EnvPrefix + "TRACING"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Tracing = b
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.VoiceAPIKey = os.Getenv(EnvPrefix + "VOICE_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	for _, ref := range []struct{ name, model string }{
		{"model", cfg.LLM.Model},
		{"questions_model", cfg.QuestionsModel()},
	} {
		provider, _, err := llm.ParseModel(ref.model)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid llm.%s %q: expected provider/model.", ref.name, ref.model))
			continue
		}
		if cfg.APIKeyFor(provider) == "" {
			warnings = append(warnings, fmt.Sprintf("No API key for LLM provider %q: set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
		}
	}

	switch cfg.Voice.Provider {
	case VoiceRelay:
		if cfg.Voice.RelayURL == "" {
			warnings = append(warnings, "voice.relay_url is empty: calls cannot connect. Set "+EnvPrefix+"VOICE_RELAY_URL.")
		}
		if cfg.Voice.GenerateWorkflowID == "" {
			warnings = append(warnings, "voice.generate_workflow_id is empty: generate calls will be rejected by the relay.")
		}
		if cfg.Voice.InterviewerAssistantID == "" {
			warnings = append(warnings, "voice.interviewer_assistant_id is empty: conduct calls will be rejected by the relay.")
		}
	case VoiceDeepgram:
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured: live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	case VoicePush:
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown voice.provider %q: using %s.", cfg.Voice.Provider, VoicePush))
		cfg.Voice.Provider = VoicePush
	}

	if d, err := time.ParseDuration(cfg.Dispatch.PollInterval); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid dispatch.poll_interval %q: using default 2s.", cfg.Dispatch.PollInterval))
	}
	if cfg.Session.IdleTimeout != "" {
		if _, err := time.ParseDuration(cfg.Session.IdleTimeout); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid session.idle_timeout %q: using default 2m.", cfg.Session.IdleTimeout))
		}
	}
	if _, err := time.ParseDuration(cfg.Session.Retention); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid session.retention %q: using default 10m.", cfg.Session.Retention))
	}
	if cfg.Dispatch.PollAttempts <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid dispatch.poll_attempts %d: using 3.", cfg.Dispatch.PollAttempts))
		cfg.Dispatch.PollAttempts = 3
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid log_level %q: using info.", cfg.LogLevel))
	}

	return warnings
}
