package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/assessment/plugin/ai/timeout"
)

// Profile is the configuration to start the assessment server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where the service stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// WorkflowFile is an optional YAML workflow definition. Empty uses the embedded standard workflow.
	WorkflowFile string
	// AdminKey guards administrative routes. Empty disables them.
	AdminKey string

	// AI Configuration
	AIEnabled     bool   // ASSESSMENT_AI_ENABLED
	AILLMProvider string // ASSESSMENT_AI_LLM_PROVIDER (default: deepseek)
	AIAPIKey      string // ASSESSMENT_AI_API_KEY
	AIBaseURL     string // ASSESSMENT_AI_BASE_URL (default depends on provider)
	AILLMModel    string // ASSESSMENT_AI_LLM_MODEL (default: deepseek-chat)

	// Budgets
	ExtractionTimeout time.Duration // ASSESSMENT_EXTRACTION_TIMEOUT
	TurnTimeout       time.Duration // ASSESSMENT_TURN_TIMEOUT
	PersistAttempts   int           // ASSESSMENT_PERSIST_ATTEMPTS
	PersistBackoff    time.Duration // ASSESSMENT_PERSIST_BACKOFF
	CacheCapacity     int           // ASSESSMENT_CACHE_CAPACITY
	CacheTTL          time.Duration // ASSESSMENT_CACHE_TTL
	RateLimit         float64       // ASSESSMENT_RATE_LIMIT requests per second per client
	RateBurst         int           // ASSESSMENT_RATE_BURST
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and the provider can be reached.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && (p.AIAPIKey != "" || p.AILLMProvider == "ollama")
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return d
}

func getIntEnv(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return n
}

// defaultBaseURL returns the API endpoint for a known provider.
func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "siliconflow":
		return "https://api.siliconflow.cn/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return "https://api.deepseek.com"
	}
}

// FromEnv loads AI and budget configuration from environment variables.
// Fields already set (for example by flags) are kept.
func (p *Profile) FromEnv() {
	p.AIEnabled = p.AIEnabled || os.Getenv("ASSESSMENT_AI_ENABLED") == "true"
	if p.AILLMProvider == "" {
		p.AILLMProvider = getEnvOrDefault("ASSESSMENT_AI_LLM_PROVIDER", "deepseek")
	}
	if p.AIAPIKey == "" {
		p.AIAPIKey = os.Getenv("ASSESSMENT_AI_API_KEY")
	}
	if p.AIBaseURL == "" {
		p.AIBaseURL = getEnvOrDefault("ASSESSMENT_AI_BASE_URL", defaultBaseURL(p.AILLMProvider))
	}
	if p.AILLMModel == "" {
		p.AILLMModel = getEnvOrDefault("ASSESSMENT_AI_LLM_MODEL", "deepseek-chat")
	}

	if p.ExtractionTimeout == 0 {
		p.ExtractionTimeout = getDurationEnv("ASSESSMENT_EXTRACTION_TIMEOUT", timeout.ExtractionTimeout)
	}
	if p.TurnTimeout == 0 {
		p.TurnTimeout = getDurationEnv("ASSESSMENT_TURN_TIMEOUT", timeout.TurnTimeout)
	}
	if p.PersistAttempts == 0 {
		p.PersistAttempts = getIntEnv("ASSESSMENT_PERSIST_ATTEMPTS", timeout.PersistAttempts)
	}
	if p.PersistBackoff == 0 {
		p.PersistBackoff = getDurationEnv("ASSESSMENT_PERSIST_BACKOFF", timeout.PersistBaseBackoff)
	}
	if p.CacheCapacity == 0 {
		p.CacheCapacity = getIntEnv("ASSESSMENT_CACHE_CAPACITY", timeout.SessionCacheCapacity)
	}
	if p.CacheTTL == 0 {
		p.CacheTTL = getDurationEnv("ASSESSMENT_CACHE_TTL", timeout.SessionCacheTTL)
	}
	if p.RateLimit == 0 {
		p.RateLimit = 10
		if raw := os.Getenv("ASSESSMENT_RATE_LIMIT"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				p.RateLimit = v
			}
		}
	}
	if p.RateBurst == 0 {
		p.RateBurst = getIntEnv("ASSESSMENT_RATE_BURST", 20)
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "assessment")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/assessment"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("assessment_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres")
	}

	if p.ExtractionTimeout <= 0 || p.TurnTimeout <= 0 || p.PersistBackoff <= 0 {
		return errors.New("timeouts must be positive")
	}
	if p.PersistAttempts < 1 {
		return errors.Errorf("persist attempts must be at least 1, got %d", p.PersistAttempts)
	}
	if p.TurnTimeout <= p.ExtractionTimeout {
		return errors.Errorf("turn timeout %s must exceed extraction timeout %s", p.TurnTimeout, p.ExtractionTimeout)
	}
	return nil
}
