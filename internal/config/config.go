package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageLocal    = "local"
	StorageSupabase = "supabase"
	StorageMinio    = "minio"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port           string
	Database       string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	JWTSecret      string
	Locale         string
	StrictParsing  bool

	LogLevel  string
	LogFormat string

	Storage StorageConfig
	LLM     LLMConfig
}

type StorageConfig struct {
	Backend   string
	UploadDir string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool
}

type LLMConfig struct {
	Provider       string
	OpenAIKey      string
	OpenAIEndpoint string
	OpenAIModel    string
	VisionModel    string
	GeminiKey      string
	GeminiModel    string
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() (Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		Database:       getEnv("DATABASE_PATH", "./data/studygen.db"),
		MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", 20<<20)),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 3*time.Minute),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		Locale:         strings.ToLower(getEnv("CONTENT_LOCALE", "en")),
		StrictParsing:  getBool("STRICT_PARSING", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		Storage: StorageConfig{
			Backend:        strings.ToLower(getEnv("STORAGE_BACKEND", StorageLocal)),
			UploadDir:      getEnv("UPLOAD_DIR", "./data/uploads"),
			SupabaseURL:    strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
			SupabaseKey:    os.Getenv("SUPABASE_KEY"),
			SupabaseBucket: getEnv("SUPABASE_BUCKET", "documents"),
			MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
			MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinioBucket:    getEnv("MINIO_BUCKET", "documents"),
			MinioSecure:    getBool("MINIO_SECURE", true),
		},
		LLM: LLMConfig{
			Provider:       strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
			OpenAIEndpoint: getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
			OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			VisionModel:    getEnv("OPENAI_VISION_MODEL", "gpt-4o-mini"),
			GeminiKey:      os.Getenv("GEMINI_API_KEY"),
			GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			MaxAttempts:    getInt("LLM_MAX_ATTEMPTS", 1),
			RetryBackoff:   getDuration("LLM_RETRY_BACKOFF", 2*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.UploadDir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for local storage"))
		}
	case StorageSupabase:
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_KEY are required for supabase storage"))
		}
	case StorageMinio:
		if c.Storage.MinioEndpoint == "" || c.Storage.MinioAccessKey == "" || c.Storage.MinioSecretKey == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for minio storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}

	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderGemini:
		if c.LLM.GeminiKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.LLM.MaxAttempts < 1 {
		errs = append(errs, errors.New("LLM_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Locale != "en" && c.Locale != "fr" {
		errs = append(errs, fmt.Errorf("unsupported CONTENT_LOCALE %q", c.Locale))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
