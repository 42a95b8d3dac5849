package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	LegacyAPI   LegacyAPIConfig
	TokenAPI    TokenAPIConfig
	HTTPClient  HTTPClientConfig
	Routing     RoutingConfig
	Search      SearchConfig
	Branches    []BranchConfig
	OTEL        OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LegacyAPIConfig holds the paginated legacy price-list API settings
type LegacyAPIConfig struct {
	BaseURL      string
	AccessToken  string
	ServicesPath string
}

// TokenAPIConfig holds the bearer-token price-list API settings
type TokenAPIConfig struct {
	BaseURL      string
	Username     string
	Password     string
	TokenPath    string
	ServicesPath string
}

// HTTPClientConfig holds outbound client settings shared by both backends
type HTTPClientConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// RoutingConfig decides which branches are served by the token-auth backend
type RoutingConfig struct {
	TokenAuthBranches []string
}

// SearchConfig holds search controller and cache settings
type SearchConfig struct {
	Debounce        time.Duration
	CacheTTL        time.Duration
	SessionIdleTTL  time.Duration
	MaxRetries      int
	DefaultCategory int
	WarmPages       int
	WarmInterval    time.Duration
}

// BranchConfig is one entry of the static branch catalog
type BranchConfig struct {
	ID   int
	Name string
	City string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

const defaultBranchCatalog = "1|Shantinagar|Kathmandu,2|Maharajgunj|Kathmandu,3|Lalitpur|Lalitpur,4|Bhaktapur|Bhaktapur,5|Pokhara|Pokhara"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	branches, err := parseBranchCatalog(getEnv("BRANCH_CATALOG", defaultBranchCatalog))
	if err != nil {
		return nil, err
	}

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		LegacyAPI: LegacyAPIConfig{
			BaseURL:      getEnv("LEGACY_API_URL", "http://localhost:9001/api"),
			AccessToken:  getEnv("LEGACY_API_ACCESS_TOKEN", ""),
			ServicesPath: getEnv("LEGACY_API_SERVICES_PATH", "/service-charges"),
		},
		TokenAPI: TokenAPIConfig{
			BaseURL:      getEnv("TOKEN_API_URL", "http://localhost:9002/api"),
			Username:     getEnv("TOKEN_API_USERNAME", ""),
			Password:     getEnv("TOKEN_API_PASSWORD", ""),
			TokenPath:    getEnv("TOKEN_API_TOKEN_PATH", "/auth/token"),
			ServicesPath: getEnv("TOKEN_API_SERVICES_PATH", "/services"),
		},
		HTTPClient: HTTPClientConfig{
			Timeout:           getEnvAsDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("HTTP_CLIENT_RPS", 10),
			Burst:             getEnvAsInt("HTTP_CLIENT_BURST", 5),
		},
		Routing: RoutingConfig{
			TokenAuthBranches: getEnvAsList("TOKEN_AUTH_BRANCHES", []string{"Shantinagar"}),
		},
		Search: SearchConfig{
			Debounce:        getEnvAsDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
			CacheTTL:        getEnvAsDuration("SEARCH_CACHE_TTL", 5*time.Minute),
			SessionIdleTTL:  getEnvAsDuration("SEARCH_SESSION_IDLE_TTL", 30*time.Minute),
			MaxRetries:      getEnvAsInt("SEARCH_MAX_RETRIES", 3),
			DefaultCategory: getEnvAsInt("SEARCH_DEFAULT_CATEGORY", 0),
			WarmPages:       getEnvAsInt("SEARCH_WARM_PAGES", 0),
			WarmInterval:    getEnvAsDuration("SEARCH_WARM_INTERVAL", 4*time.Minute),
		},
		Branches: branches,
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "diagnostic-price-search"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}, nil
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseBranchCatalog reads "id|name|city" entries separated by commas.
func parseBranchCatalog(raw string) ([]BranchConfig, error) {
	var branches []BranchConfig
	seen := make(map[int]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid branch catalog entry %q: want id|name|city", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid branch id in %q: %w", entry, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate branch id %d in catalog", id)
		}
		seen[id] = true
		branches = append(branches, BranchConfig{
			ID:   id,
			Name: strings.TrimSpace(parts[1]),
			City: strings.TrimSpace(parts[2]),
		})
	}
	return branches, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
