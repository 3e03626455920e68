package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server configuration read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// LibraryDB is the SQLite file holding the media catalogue.
	LibraryDB string
	// MediaRoot is scanned into the catalogue at startup when set.
	MediaRoot string
	UploadDir string

	HLSSegmentSeconds int
	HLSDefaultBitRate string

	WSPushInterval  time.Duration
	RemotePlayRPS   float64
	RemotePlayBurst int
}

// FromEnv builds a Config from environment variables, falling back to
// defaults for anything unset or invalid.
func FromEnv() Config {
	return Config{
		Port:              GetEnv("PORT", "8080"),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		LogFormat:         GetEnv("LOG_FORMAT", "json"),
		LibraryDB:         GetEnv("LIBRARY_DB", "library.db"),
		MediaRoot:         GetEnv("MEDIA_ROOT", ""),
		UploadDir:         GetEnv("UPLOAD_DIR", "uploads"),
		HLSSegmentSeconds: GetEnvInt("HLS_SEGMENT_SECONDS", 10),
		HLSDefaultBitRate: GetEnv("HLS_DEFAULT_BITRATE", "1000"),
		WSPushInterval:    GetEnvDuration("WS_PUSH_INTERVAL", 5*time.Second),
		RemotePlayRPS:     GetEnvFloat("REMOTE_PLAY_RPS", 5),
		RemotePlayBurst:   GetEnvInt("REMOTE_PLAY_BURST", 10),
	}
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvDuration parses values such as "5s" or "1m". Non-positive or
// unparsable values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
