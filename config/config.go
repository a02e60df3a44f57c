// Package config loads environment-driven settings via godotenv plus
// getEnv/getEnvAsInt helpers, covering every knob the warmup engine needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	_ = godotenv.Load()
}

type Config struct {
	DatabaseURL string
	RedisURL    string

	EncryptionKey     string
	TrackingSecretKey string
	APIBaseURL        string

	OpenRouterKeys []string
	GroqKeys       []string
	OpenAIKey      string
	AIProvider     string

	MinEmailsPerDay     int
	MaxEmailsPerDay     int
	WarmupDurationWeeks int

	ResponseDelayMinHours float64
	ResponseDelayMaxHours float64

	MaxBounceRate        float64
	AutoPauseOnHighBounce bool

	ServerPort string
}

// LoadConfig populates Config from the environment, with defaults for
// every optional knob.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		EncryptionKey:         getEnv("ENCRYPTION_KEY", ""),
		TrackingSecretKey:     getEnv("TRACKING_SECRET_KEY", ""),
		APIBaseURL:            getEnv("API_BASE_URL", "http://localhost:8080"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		AIProvider:            getEnv("AI_PROVIDER", "openrouter"),
		MinEmailsPerDay:       getEnvAsInt("MIN_EMAILS_PER_DAY", 3),
		MaxEmailsPerDay:       getEnvAsInt("MAX_EMAILS_PER_DAY", 50),
		WarmupDurationWeeks:   getEnvAsInt("WARMUP_DURATION_WEEKS", 6),
		ResponseDelayMinHours: getEnvAsFloat("RESPONSE_DELAY_MIN_HOURS", 0.5),
		ResponseDelayMaxHours: getEnvAsFloat("RESPONSE_DELAY_MAX_HOURS", 4),
		MaxBounceRate:         getEnvAsFloat("MAX_BOUNCE_RATE", 0.05),
		AutoPauseOnHighBounce: getEnvAsBool("AUTO_PAUSE_ON_HIGH_BOUNCE", true),
		ServerPort:            getEnv("SERVER_PORT", "8080"),
	}

	cfg.OpenRouterKeys = collectKeyRing("OPENROUTER_API_KEY", 9)
	cfg.GroqKeys = collectKeyRing("GROQ_API_KEY", 2)

	if cfg.DatabaseURL == "" {
		logrus.Warn("DATABASE_URL not set")
	}
	if cfg.EncryptionKey == "" {
		logrus.Warn("ENCRYPTION_KEY not set: the Credential Vault will refuse to encrypt")
	}
	if cfg.TrackingSecretKey == "" {
		logrus.Warn("TRACKING_SECRET_KEY not set: tracking token validation is disabled")
	}

	logConfig(cfg)
	return cfg, nil
}

// collectKeyRing reads `<prefix>`, `<prefix>_2` .. `<prefix>_N` (OpenRouter
// 1..9, Groq 1..2), filtering placeholder-like values.
func collectKeyRing(prefix string, maxIndex int) []string {
	var keys []string
	if v := getEnv(prefix, ""); isLikelyRealKey(v) {
		keys = append(keys, v)
	}
	for i := 2; i <= maxIndex; i++ {
		name := fmt.Sprintf("%s_%d", prefix, i)
		if v := getEnv(name, ""); isLikelyRealKey(v) {
			keys = append(keys, v)
		}
	}
	return keys
}

func isLikelyRealKey(v string) bool {
	if v == "" {
		return false
	}
	lower := strings.ToLower(v)
	for _, bad := range []string{"your_", "placeholder", "xxx"} {
		if strings.Contains(lower, bad) {
			return false
		}
	}
	return true
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func maskDSN(dsn string) string {
	idx := strings.Index(dsn, "password=")
	if idx == -1 {
		return dsn
	}
	end := strings.Index(dsn[idx:], " ")
	if end == -1 {
		return dsn[:idx] + "password=****"
	}
	return dsn[:idx] + "password=****" + dsn[idx+end:]
}

func logConfig(cfg *Config) {
	logrus.WithFields(logrus.Fields{
		"database":       maskDSN(cfg.DatabaseURL),
		"server_port":    cfg.ServerPort,
		"ai_provider":    cfg.AIProvider,
		"openrouter_keys": len(cfg.OpenRouterKeys),
		"groq_keys":      len(cfg.GroqKeys),
	}).Info("configuration loaded")
}

// ConnectDB opens the Postgres connection and auto-migrates the given
// models.
func ConnectDB(cfg *Config, models ...interface{}) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return nil, fmt.Errorf("automigrate: %w", err)
		}
	}

	return db, nil
}
