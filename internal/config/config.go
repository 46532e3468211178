package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"security-checker/internal/integrations/blobstore"
	"security-checker/internal/usecase"
)

// Config holds the process-wide settings. It is built once at start-up and
// passed into the constructors; nothing reads the environment afterwards.
type Config struct {
	ParticipantID string `env:"PARTICIPANT_ID" envDefault:"security-checker"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`

	ChecklistBucket   string `env:"CHECKLIST_BUCKET"`
	ChecklistKey      string `env:"CHECKLIST_KEY"`
	ChecklistEndpoint string `env:"CHECKLIST_ENDPOINT"`

	ParamPrefix          string `env:"PARAM_PREFIX"`
	CompletionAPIKey     string `env:"COMPLETION_API_KEY"`
	CompletionProvider   string `env:"COMPLETION_PROVIDER" envDefault:"openai"`
	CompletionBaseURL    string `env:"COMPLETION_BASE_URL"`
	CompletionAPIVersion string `env:"COMPLETION_API_VERSION"`
	CompletionModel      string `env:"COMPLETION_MODEL" envDefault:"gpt-4o"`
	PromptLocale         string `env:"PROMPT_LOCALE" envDefault:"ja"`
	PreambleTemplateFile string `env:"PREAMBLE_TEMPLATE_FILE"`
	SourceHeading        string `env:"SOURCE_HEADING"`
	AssistantTurns       string `env:"ASSISTANT_TURNS" envDefault:"omit"`
}

// LoadDotEnv loads the first existing file of paths into the environment
// without overriding variables that are already set.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// Load parses environment variables into Config and validates them.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ParticipantID) == "" {
		errs = append(errs, errors.New("PARTICIPANT_ID must not be empty"))
	}
	if strings.TrimSpace(c.ChecklistBucket) == "" {
		errs = append(errs, errors.New("CHECKLIST_BUCKET is required"))
	}
	if strings.TrimSpace(c.ChecklistKey) == "" {
		errs = append(errs, errors.New("CHECKLIST_KEY is required"))
	}
	if strings.TrimSpace(c.ParamPrefix) == "" && strings.TrimSpace(c.CompletionAPIKey) == "" {
		errs = append(errs, errors.New("PARAM_PREFIX or COMPLETION_API_KEY is required"))
	}
	switch c.CompletionProvider {
	case "openai":
	case "azure":
		if strings.TrimSpace(c.CompletionBaseURL) == "" {
			errs = append(errs, errors.New("COMPLETION_BASE_URL is required when COMPLETION_PROVIDER is azure"))
		}
	default:
		errs = append(errs, fmt.Errorf("COMPLETION_PROVIDER %q is not supported", c.CompletionProvider))
	}
	if _, err := usecase.ParseAssistantTurnPolicy(c.AssistantTurns); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) ChecklistLocation() blobstore.Location {
	return blobstore.Location{Bucket: strings.TrimSpace(c.ChecklistBucket), Key: strings.TrimSpace(c.ChecklistKey)}
}

// PromptTemplate resolves the participant wording: the built-in locale,
// optionally overridden by a preamble file and a source heading.
func (c Config) PromptTemplate() (usecase.PromptTemplate, error) {
	var preamble string
	if path := strings.TrimSpace(c.PreambleTemplateFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return usecase.PromptTemplate{}, fmt.Errorf("config: read preamble template: %w", err)
		}
		preamble = string(raw)
	}
	return usecase.BuiltinPromptTemplate(c.PromptLocale, preamble, c.SourceHeading)
}

func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not valid", s)
	}
	return level, nil
}

// NewLogger returns a JSON logger at the configured level.
func (c Config) NewLogger() *slog.Logger {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
