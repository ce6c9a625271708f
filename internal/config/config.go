package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries all runtime settings for the API server.
type Config struct {
	Server  ServerConfig
	Signing SigningConfig
	CORS    CORSConfig
	DB      DBConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   int
}

// SigningConfig holds e-signature workflow settings.
type SigningConfig struct {
	// PublicBaseURL is the origin used to build absolute signing URLs,
	// e.g. "https://app.example.com".
	PublicBaseURL string
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowOrigins string
}

// Origins splits the comma-separated allow list.
func (c CORSConfig) Origins() []string {
	if strings.TrimSpace(c.AllowOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DBConfig holds PostgreSQL settings.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Load reads configuration from the environment, with an optional .env file.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("LEADSIGN_ADDR", ":8080"),
			ReadTimeout:  getDuration("LEADSIGN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("LEADSIGN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("LEADSIGN_IDLE_TIMEOUT", 60*time.Second),
			MaxBodyBytes: int64(getInt("LEADSIGN_MAX_BODY_BYTES", 2<<20)),
			RateBurst:    getInt("LEADSIGN_RATE_BURST", 20),
			RatePerSec:   getInt("LEADSIGN_RATE_PER_SEC", 10),
		},
		Signing: SigningConfig{
			PublicBaseURL: strings.TrimRight(getEnv("LEADSIGN_PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("LEADSIGN_CORS_ALLOW_ORIGINS", ""),
		},
		DB: DBConfig{
			DSN:             getEnv("LEADSIGN_PG_DSN", ""),
			MaxOpenConns:    getInt("LEADSIGN_PG_MAX_OPEN", 10),
			MaxIdleConns:    getInt("LEADSIGN_PG_MAX_IDLE", 10),
			ConnMaxLifetime: getDuration("LEADSIGN_PG_CONN_LIFETIME", 30*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
