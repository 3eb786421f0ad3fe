package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the API server and the sweeper.
type Config struct {
	Env      string
	LogLevel string
	HTTPHost string
	HTTPPort string

	DataDir   string
	OutputDir string
	MusicDir  string

	StoreDriver string
	SQLitePath  string
	PostgresDSN string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	MaxConcurrentJobs int
	MaxVideoSeconds   int
	JobTimeout        time.Duration
	StageTimeout      time.Duration
	RenderTimeout     time.Duration
	JobListMax        int
	MaxUploadBytes    int64
	MaxDownloadBytes  int64

	SecretKey    string
	ProviderKeys map[string]string

	FFmpegPath  string
	EspeakPath  string
	VideoWidth  int
	VideoHeight int
	VideoFPS    int
	StockVideo  bool

	ArtifactS3Bucket    string
	ArtifactS3Region    string
	ArtifactS3Endpoint  string
	ArtifactS3PathStyle bool

	JobRetention  time.Duration
	SweepInterval time.Duration
}

// Load reads an optional .env file, then the environment, with defaults for local development.
func Load() Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	return Config{
		Env:      getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPHost: getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getEnv("HTTP_PORT", getEnv("PORT", "8000")),

		DataDir:   dataDir,
		OutputDir: getEnv("OUTPUT_DIR", "./output"),
		MusicDir:  getEnv("MUSIC_DIR", filepath.Join(dataDir, "music")),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", filepath.Join(dataDir, "jobs.db")),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 0.2),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),
		MaxVideoSeconds:   getEnvInt("MAX_VIDEO_LENGTH_SECONDS", 300),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		StageTimeout:      getEnvDuration("STAGE_TIMEOUT", 90*time.Second),
		RenderTimeout:     getEnvDuration("RENDER_TIMEOUT", 8*time.Minute),
		JobListMax:        getEnvInt("JOB_LIST_MAX", 100),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 50<<20)),
		MaxDownloadBytes:  int64(getEnvInt("MAX_MEDIA_DOWNLOAD_BYTES", 25<<20)),

		SecretKey: getEnv("SECRET_KEY", ""),
		ProviderKeys: map[string]string{
			"gemini":     getEnv("GEMINI_API_KEY", ""),
			"groq":       getEnv("GROQ_API_KEY", ""),
			"openai":     getEnv("OPENAI_API_KEY", ""),
			"pexels":     getEnv("PEXELS_API_KEY", ""),
			"pixabay":    getEnv("PIXABAY_API_KEY", ""),
			"unsplash":   getEnv("UNSPLASH_ACCESS_KEY", getEnv("UNSPLASH_API_KEY", "")),
			"elevenlabs": getEnv("ELEVENLABS_API_KEY", ""),
		},

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		EspeakPath:  getEnv("ESPEAK_PATH", ""),
		VideoWidth:  getEnvInt("VIDEO_WIDTH", 1920),
		VideoHeight: getEnvInt("VIDEO_HEIGHT", 1080),
		VideoFPS:    getEnvInt("VIDEO_FPS", 30),
		StockVideo:  getEnvBool("STOCK_VIDEO", true),

		ArtifactS3Bucket:    getEnv("ARTIFACT_S3_BUCKET", ""),
		ArtifactS3Region:    getEnv("ARTIFACT_S3_REGION", "us-east-1"),
		ArtifactS3Endpoint:  getEnv("ARTIFACT_S3_ENDPOINT", ""),
		ArtifactS3PathStyle: getEnvBool("ARTIFACT_S3_PATH_STYLE", false),

		JobRetention:  getEnvDuration("JOB_RETENTION", 72*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Hour),
	}
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return c.HTTPHost + ":" + c.HTTPPort
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") and bare integers as seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
