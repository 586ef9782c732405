package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	StoreDriver string `validate:"oneof=bolt memory postgres"`
	StorePath   string `validate:"required_if=StoreDriver bolt"`
	DatabaseURL string `validate:"required_if=StoreDriver postgres"`
	StoreDBName string

	NATSURL         string
	NATSPrefix      string `validate:"required,excludesall=*>"`
	LogNATSSubjects bool

	SyncDelay        time.Duration `validate:"gte=0"`
	SyncWindow       time.Duration `validate:"gt=0"`
	FlushTimeout     time.Duration `validate:"gt=0"`
	PositionInterval time.Duration `validate:"gte=0"`

	PredictionTTL     time.Duration `validate:"gt=0"`
	PredictionTimeout time.Duration `validate:"gt=0"`
	GeminiAPIKey      string
	GeminiModel       string `validate:"required"`

	TTSCommand   string
	SeedFile     string `validate:"omitempty,file"`
	HTTPAddr     string `validate:"required"`
	MetricsAddr  string // empty disables the metrics server
	LogLevel     string `validate:"oneof=debug info warn error"`
	LogFormat    string `validate:"oneof=json console"`
	StartOffline bool
}

var validate = validator.New()

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		StoreDriver:     strings.ToLower(getenvDefault("STORE_DRIVER", "bolt")),
		StorePath:       getenvDefault("STORE_PATH", "data/graminbus.db"),
		StoreDBName:     os.Getenv("STORE_DB_NAME"),
		NATSURL:         os.Getenv("NATS_URL"),
		NATSPrefix:      getenvDefault("NATS_SUBJECT_PREFIX", "graminbus"),
		LogNATSSubjects: envBool("LOG_NATS_SUBJECTS"),
		GeminiAPIKey:    firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY")),
		GeminiModel:     getenvDefault("GEMINI_MODEL", "gemini-3-flash-preview"),
		TTSCommand:      os.Getenv("TTS_COMMAND"),
		SeedFile:        os.Getenv("SEED_FILE"),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		LogLevel:        strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getenvDefault("LOG_FORMAT", "json")),
		StartOffline:    envBool("START_OFFLINE"),
	}

	if cfg.StoreDriver == "postgres" {
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	var err error
	if cfg.SyncDelay, err = envMillis("SYNC_DELAY_MS", 1500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SyncWindow, err = envMillis("SYNC_WINDOW_MS", 800*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.FlushTimeout, err = envMillis("FLUSH_TIMEOUT_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PositionInterval, err = envMillis("POSITION_INTERVAL_MS", 0); err != nil {
		return nil, err
	}
	if cfg.PredictionTimeout, err = envMillis("PREDICTION_TIMEOUT_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if v := os.Getenv("PREDICTION_TTL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid PREDICTION_TTL_SEC: %q", v)
		}
		cfg.PredictionTTL = time.Duration(sec) * time.Second
	} else {
		cfg.PredictionTTL = 5 * time.Minute
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", fmt.Errorf("PGDATABASE or DATABASE_URL must be set when STORE_DRIVER=postgres")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
