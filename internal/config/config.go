package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port               string
	DatabaseURL        string
	StoreDriver        string
	SQLitePath         string
	JWTSecret          string
	MinutesPerPerson   int
	ResetCron          string
	RedisURL           string
	RedisChannel       string
	ClientBuffer       int
	RateLimitPerMinute int
	RateLimitBurst     int
	SSEHeartbeat       time.Duration
	RecentOpsWindow    time.Duration
	ShutdownTimeout    time.Duration
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dsn := os.Getenv("DB_DSN")
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver == "" {
		driver = DriverSQLite
		if dsn != "" {
			driver = DriverPostgres
		}
	}

	return Config{
		Port:               port,
		DatabaseURL:        dsn,
		StoreDriver:        driver,
		SQLitePath:         readString("SQLITE_PATH", "lanes.db"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		MinutesPerPerson:   readInt("MINUTES_PER_PERSON", 5),
		ResetCron:          readString("RESET_CRON", "5 0 0 * * *"),
		RedisURL:           os.Getenv("REDIS_URL"),
		RedisChannel:       readString("REDIS_CHANNEL", "lane-events"),
		ClientBuffer:       readInt("REALTIME_CLIENT_BUFFER", 32),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		SSEHeartbeat:       readDurationSeconds("SSE_HEARTBEAT_SECONDS", 25),
		RecentOpsWindow:    readDurationSeconds("RECENT_OPERATIONS_WINDOW_SECONDS", 30),
		ShutdownTimeout:    readDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
	}
}

func readString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
