package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv        string
	Port          string
	AudiencesPath string

	LLMProvider string

	AnthropicAPIKey string
	AnthropicModel  string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	ProviderTimeout    time.Duration
	ProviderMaxRetries int
	ProviderRetryBase  time.Duration

	SelectionTemperature  float64
	SelectionMaxTokens    int
	GenerationTemperature float64
	GenerationMaxTokens   int

	MinResponders       int
	MaxResponders       int
	RecentSpeakerWindow int
	ConversationWindow  int
	OwnHistoryWindow    int

	QuestionMaxLen int

	FrontendOrigin      string
	CORSAllowedOrigins  []string
	RequestBodyMaxBytes int64
	APIRequestTimeout   time.Duration
	APIReadTimeout      time.Duration
	APIWriteTimeout     time.Duration
	APIIdleTimeout      time.Duration
}

func Load() Config {
	appEnv := strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", "dev")))

	frontendOrigin := getEnv("FRONTEND_ORIGIN", "http://localhost:3000")
	corsAllowedOrigins := parseCSVEnv("CORS_ALLOWED_ORIGINS")
	if len(corsAllowedOrigins) == 0 {
		corsAllowedOrigins = []string{frontendOrigin}
		if appEnv != "prod" && appEnv != "production" {
			corsAllowedOrigins = append(corsAllowedOrigins, "http://localhost:3000", "http://127.0.0.1:3000")
		}
	}

	return Config{
		AppEnv:        appEnv,
		Port:          getEnv("PORT", "8080"),
		AudiencesPath: getEnv("AUDIENCES_PATH", "./configs/audiences.json"),

		LLMProvider: getEnv("LLM_PROVIDER", "mock"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),

		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		ProviderTimeout:    getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
		ProviderMaxRetries: getEnvInt("PROVIDER_MAX_RETRIES", 1),
		ProviderRetryBase:  getEnvDuration("PROVIDER_RETRY_BASE", 400*time.Millisecond),

		SelectionTemperature:  getEnvFloat("SELECTION_TEMPERATURE", 0.7),
		SelectionMaxTokens:    getEnvInt("SELECTION_MAX_TOKENS", 200),
		GenerationTemperature: getEnvFloat("GENERATION_TEMPERATURE", 0.9),
		GenerationMaxTokens:   getEnvInt("GENERATION_MAX_TOKENS", 300),

		MinResponders:       getEnvInt("MIN_RESPONDERS", 2),
		MaxResponders:       getEnvInt("MAX_RESPONDERS", 4),
		RecentSpeakerWindow: getEnvInt("RECENT_SPEAKER_WINDOW", 6),
		ConversationWindow:  getEnvInt("CONVERSATION_WINDOW", 8),
		OwnHistoryWindow:    getEnvInt("OWN_HISTORY_WINDOW", 5),

		QuestionMaxLen: getEnvInt("QUESTION_MAX_LEN", 2000),

		FrontendOrigin:      frontendOrigin,
		CORSAllowedOrigins:  corsAllowedOrigins,
		RequestBodyMaxBytes: int64(getEnvInt("REQUEST_BODY_MAX_BYTES", 1<<20)),
		APIRequestTimeout:   getEnvDuration("API_REQUEST_TIMEOUT", 2*time.Minute),
		APIReadTimeout:      getEnvDuration("API_READ_TIMEOUT", 15*time.Second),
		APIWriteTimeout:     getEnvDuration("API_WRITE_TIMEOUT", 150*time.Second),
		APIIdleTimeout:      getEnvDuration("API_IDLE_TIMEOUT", 60*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSVEnv(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		if _, exists := seen[clean]; exists {
			continue
		}
		seen[clean] = struct{}{}
		items = append(items, clean)
	}
	return items
}
