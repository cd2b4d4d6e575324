package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	Addr        string
	CORSOrigins []string
	// MaxBookDepth caps the maxCount a books query may ask for.
	MaxBookDepth int
}

type Node struct {
	DataDir  string // Pebble directory; empty keeps grids in memory only
	LogFile  string // optional JSON log file teed with stdout
	LogLevel string
	WALFile  string // optional append-only event log
	// QuoteCacheSize is the number of boundary prices kept memoized.
	QuoteCacheSize int
	ChainID        int64 // EIP-712 domain chain id for maker order signatures
}

type Config struct {
	API  API
	Node Node
}

func Default() Config {
	return Config{
		API: API{
			Addr:         ":8080",
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			MaxBookDepth: 100,
		},
		Node: Node{
			DataDir:        "data/pebble",
			QuoteCacheSize: 4096,
			ChainID:        1337,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.WALFile = getEnv("WAL_FILE", cfg.Node.WALFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	if n := getEnvInt("QUOTE_CACHE_SIZE"); n > 0 {
		cfg.Node.QuoteCacheSize = n
	}
	if n := getEnvInt("MAX_BOOK_DEPTH"); n > 0 {
		cfg.API.MaxBookDepth = n
	}
	if n := getEnvInt("CHAIN_ID"); n > 0 {
		cfg.Node.ChainID = int64(n)
	}

	// Example: "http://localhost:3000,https://app.example.com"
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.API.CORSOrigins = append(cfg.API.CORSOrigins, o)
			}
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns 0 when key is unset or not a number.
func getEnvInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}
