package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultInsightMaxDistance is the largest cosine distance at which a
// candidate insight is treated as the same topic as an existing one.
const DefaultInsightMaxDistance = 0.35

type Config struct {
	DBDriver   string // "postgres" or "sqlite"
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string
	DBLogLevel string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Embedding provider: "openai" uses the built-in client, "compat" goes
	// through langchaingo against any OpenAI-compatible host.
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingDimensions int
	ChatModel           string

	// Insight deduplication
	InsightMaxDistance          float64
	InsightSerializeEnvironment bool

	// Capability checks done before any insight extraction
	AIEnabled      bool
	AIEnvironments []string // empty means every environment

	ServerPort string
	ServerHost string

	// Worker pool configuration
	ProcessingWorkers   int
	ProcessingQueueSize int

	// Read-side cache and invalidation fan-out
	CacheMaxCost        int64
	InvalidationChannel string
	InvalidationListen  bool

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "feedback_insights"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "insights.db"),
		DBLogLevel: getEnv("DB_LOG_LEVEL", "warn"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		EmbeddingProvider:   getEnv("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		ChatModel:           getEnv("CHAT_MODEL", "gpt-4o-mini"),

		InsightMaxDistance:          getEnvFloat("INSIGHT_MAX_DISTANCE", DefaultInsightMaxDistance),
		InsightSerializeEnvironment: getEnvBool("INSIGHT_SERIALIZE_ENVIRONMENT", false),

		AIEnabled:      getEnvBool("AI_ENABLED", true),
		AIEnvironments: getEnvList("AI_ENVIRONMENTS"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		ProcessingWorkers:   getEnvInt("PROCESSING_WORKERS", 5),
		ProcessingQueueSize: getEnvInt("PROCESSING_QUEUE_SIZE", 100),

		CacheMaxCost:        int64(getEnvInt("CACHE_MAX_COST", 10000)),
		InvalidationChannel: getEnv("INVALIDATION_CHANNEL", "insight_invalidation"),
		InvalidationListen:  getEnvBool("INVALIDATION_LISTEN", false),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	switch c.EmbeddingProvider {
	case "openai":
		if c.AIEnabled && c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "compat":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be openai or compat, got %q", c.EmbeddingProvider)
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}

	// Cosine distance lives in [0, 2].
	if c.InsightMaxDistance <= 0 || c.InsightMaxDistance > 2 {
		return fmt.Errorf("INSIGHT_MAX_DISTANCE must be in (0, 2], got %v", c.InsightMaxDistance)
	}

	if c.ProcessingWorkers < 1 {
		c.ProcessingWorkers = 1
	}

	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// AIAllowed reports whether insight extraction may run for an environment.
func (c *Config) AIAllowed(environmentID string) bool {
	if !c.AIEnabled {
		return false
	}
	if len(c.AIEnvironments) == 0 {
		return true
	}
	for _, id := range c.AIEnvironments {
		if id == environmentID {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
