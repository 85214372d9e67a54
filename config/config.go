package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int

	// REDIS_URL опционален: без него события лобби раздаются только
	// локальным WebSocket-клиентам этого инстанса.
	RedisURL string

	// Cloudflare R2 (S3-совместимое хранилище скриншотов матчей).
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2PublicBaseURL   string

	// Параметры матчмейкинга.
	LobbyCapacity    int
	ReadyCheckWindow time.Duration
	LobbyTTL         time.Duration
	SweepInterval    time.Duration

	// Пул соединений Postgres.
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Загружаем .env файл, если он есть. Ошибку не считаем фатальной.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	portStr := os.Getenv("SERVER_PORT")
	if portStr == "" {
		portStr = "8080" // Порт по умолчанию
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	capacity, err := intEnv("LOBBY_CAPACITY", 4)
	if err != nil {
		return nil, err
	}
	if capacity < 2 {
		return nil, fmt.Errorf("LOBBY_CAPACITY must be at least 2, got %d", capacity)
	}

	readySeconds, err := intEnv("READY_CHECK_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	ttlMinutes, err := intEnv("LOBBY_TTL_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	sweepSeconds, err := intEnv("SWEEP_INTERVAL_SECONDS", 5)
	if err != nil {
		return nil, err
	}

	maxOpen, err := intEnv("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	maxIdle, err := intEnv("DB_MAX_IDLE_CONNS", 25)
	if err != nil {
		return nil, err
	}
	connLifetimeMinutes, err := intEnv("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:  dbURL,
		JWTSecretKey: jwtKey,
		ServerPort:   port,

		RedisURL: os.Getenv("REDIS_URL"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2Bucket:          os.Getenv("R2_BUCKET"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),

		LobbyCapacity:    capacity,
		ReadyCheckWindow: time.Duration(readySeconds) * time.Second,
		LobbyTTL:         time.Duration(ttlMinutes) * time.Minute,
		SweepInterval:    time.Duration(sweepSeconds) * time.Second,

		DBMaxOpenConns:    maxOpen,
		DBMaxIdleConns:    maxIdle,
		DBConnMaxLifetime: time.Duration(connLifetimeMinutes) * time.Minute,
	}

	return cfg, nil
}

// R2Configured проверяет, заданы ли все переменные хранилища скриншотов.
func (c *Config) R2Configured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" &&
		c.R2Bucket != "" && c.R2PublicBaseURL != ""
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", name, v)
	}
	return v, nil
}
