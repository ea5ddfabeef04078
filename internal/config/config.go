package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string
	BackendURL string
	// APIToken is the backend bearer token. TokenFile, when set, is re-read
	// whenever the cached token expires.
	APIToken    string
	TokenFile   string
	HostToken   string
	CORSOrigin  string
	HTTPTimeout time.Duration

	DatabaseURL   string
	MigrationsDir string

	RedisURL string
	DraftTTL time.Duration

	MeiliURL       string
	MeiliMasterKey string

	HistoryDir string

	RefetchAttempts int
	RefetchBackoff  time.Duration
}

// Load reads the environment, after merging a local .env file if there is
// one. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:            getenv("EDITOR_ADDR", ":8790"),
		BackendURL:      getenv("EDITOR_BACKEND_URL", "http://localhost:8000"),
		APIToken:        getenv("EDITOR_API_TOKEN", ""),
		TokenFile:       getenv("EDITOR_TOKEN_FILE", ""),
		HostToken:       getenv("EDITOR_HOST_TOKEN", ""),
		CORSOrigin:      getenv("EDITOR_CORS_ORIGIN", "*"),
		HTTPTimeout:     time.Duration(getenvInt("EDITOR_HTTP_TIMEOUT_SECONDS", 60)) * time.Second,
		DatabaseURL:     getenv("DATABASE_URL", ""),
		MigrationsDir:   getenv("EDITOR_MIGRATIONS_DIR", "./db/migrations"),
		RedisURL:        getenv("REDIS_URL", ""),
		DraftTTL:        time.Duration(getenvInt("EDITOR_DRAFT_TTL_SECONDS", 604800)) * time.Second,
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		HistoryDir:      getenv("EDITOR_HISTORY_DIR", "./data/history"),
		RefetchAttempts: getenvInt("EDITOR_REFETCH_ATTEMPTS", 3),
		RefetchBackoff:  time.Duration(getenvInt("EDITOR_REFETCH_BACKOFF_MS", 250)) * time.Millisecond,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
