package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Every knob has a working
// default so `chromascope serve` runs against a local provider with no .env.
type Config struct {
	// Analysis
	SampleRate     int     // decode target rate for analysis, Hz
	WindowSize     int     // spectral frame window, samples
	SpectralBins   int     // reduced magnitude-spectrum bin count
	MelCadenceSec  float64 // mel frame spacing, seconds
	ChromaCadence  float64 // chroma frame spacing, seconds
	PitchFrameRate float64 // pitch output frames per second

	// Orchestration
	DebounceDelay   time.Duration // settle time after a track change
	ResolverSpacing time.Duration // minimum gap between resolver calls
	PollInterval    time.Duration // playback provider poll period

	// External services
	ProviderURL string // playback-state endpoint
	ResolverURL string // media resolver endpoint

	// Cache tiers
	CacheDir      string // root for analysis db + media files
	AnalysisStore string // "sqlite", "redis" or "memory"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Optional media mirror
	MinioEndpoint  string // empty disables the mirror tier
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Decode
	FFmpegPath  string
	FFprobePath string

	// HTTP surface
	ListenAddr string

	// Logging
	LogLevel string
	LogFile  string // empty means console only
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration ("800ms", "2s")
// or returns a default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	return &Config{
		SampleRate:     getEnvInt("CHROMA_SAMPLE_RATE", 22050),
		WindowSize:     getEnvInt("CHROMA_WINDOW_SIZE", 1024),
		SpectralBins:   getEnvInt("CHROMA_SPECTRAL_BINS", 128),
		MelCadenceSec:  getEnvFloat("CHROMA_MEL_CADENCE", 0.1),
		ChromaCadence:  getEnvFloat("CHROMA_CHROMA_CADENCE", 0.033),
		PitchFrameRate: getEnvFloat("CHROMA_PITCH_FRAME_RATE", 20),

		DebounceDelay:   getEnvDuration("CHROMA_DEBOUNCE_DELAY", 800*time.Millisecond),
		ResolverSpacing: getEnvDuration("CHROMA_RESOLVER_SPACING", 2*time.Second),
		PollInterval:    getEnvDuration("CHROMA_POLL_INTERVAL", time.Second),

		ProviderURL: getEnv("CHROMA_PROVIDER_URL", "http://127.0.0.1:9210/player/state"),
		ResolverURL: getEnv("CHROMA_RESOLVER_URL", ""),

		CacheDir:      getEnv("CHROMA_CACHE_DIR", "cache"),
		AnalysisStore: getEnv("CHROMA_ANALYSIS_STORE", "sqlite"),
		RedisAddr:     getEnv("CHROMA_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("CHROMA_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("CHROMA_REDIS_DB", 0),
		RedisTTL:      getEnvDuration("CHROMA_REDIS_TTL", 30*24*time.Hour),

		MinioEndpoint:  getEnv("CHROMA_MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("CHROMA_MINIO_ACCESS_KEY", ""),
		MinioSecretKey: os.Getenv("CHROMA_MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("CHROMA_MINIO_BUCKET", "chromascope-media"),
		MinioUseSSL:    getEnvBool("CHROMA_MINIO_USE_SSL", false),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		ListenAddr: getEnv("CHROMA_LISTEN_ADDR", ":9211"),

		LogLevel: getEnv("CHROMA_LOG_LEVEL", "info"),
		LogFile:  getEnv("CHROMA_LOG_FILE", ""),
	}
}
