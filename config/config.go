package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	SessionBackendCookie = "cookie"
	SessionBackendRedis  = "redis"

	placeholderSessionKey = "CHANGE_ME_IN_PRODUCTION"
)

type Config struct {
	AppName             string  `json:"app_name"`
	ListenIP            string  `json:"listen_ip"`
	ListenPort          int     `json:"listen_port"`
	SessionKey          string  `json:"session_key"`
	SessionBackend      string  `json:"session_backend"`
	SessionMaxAge       int     `json:"session_max_age"`
	SecureCookies       bool    `json:"secure_cookies"`
	RedisURL            string  `json:"redis_url"`
	DatabasePath        string  `json:"database_path"`
	RegistrationCaptcha bool    `json:"registration_captcha"`
	MetricsEnabled      bool    `json:"metrics_enabled"`
	LogDir              string  `json:"log_dir"`
	LogLevel            string  `json:"log_level"`
	RequestsPerSecond   float64 `json:"requests_per_second"`
	RequestBurst        int     `json:"request_burst"`
	BcryptCost          int     `json:"bcrypt_cost"`
}

func Default() Config {
	return Config{
		AppName:           "Timesheet",
		ListenIP:          "127.0.0.1",
		ListenPort:        8080,
		SessionBackend:    SessionBackendCookie,
		SessionMaxAge:     86400 * 7,
		DatabasePath:      "./timesheet.db",
		LogLevel:          "info",
		RequestsPerSecond: 5,
		RequestBurst:      20,
	}
}

// LoadConfig reads the JSON file at path on top of the defaults, then
// applies TIMESHEET_* environment overrides (a .env file is honoured).
// An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.SessionKey == "" || cfg.SessionKey == placeholderSessionKey {
		log.Println("WARNING: No session key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return Config{}, err
		}
		cfg.SessionKey = hex.EncodeToString(randomKey)
	}

	return cfg, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenIP, c.ListenPort)
}

func (c Config) validate() error {
	switch c.SessionBackend {
	case SessionBackendCookie:
	case SessionBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("session_backend %q requires redis_url", c.SessionBackend)
		}
	default:
		return fmt.Errorf("unknown session_backend %q", c.SessionBackend)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen_port %d", c.ListenPort)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TIMESHEET_SESSION_KEY"); v != "" {
		cfg.SessionKey = v
	}
	if v := os.Getenv("TIMESHEET_LISTEN_IP"); v != "" {
		cfg.ListenIP = v
	}
	if v := os.Getenv("TIMESHEET_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = port
		}
	}
	if v := os.Getenv("TIMESHEET_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("TIMESHEET_SESSION_BACKEND"); v != "" {
		cfg.SessionBackend = v
	}
	if v := os.Getenv("TIMESHEET_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("TIMESHEET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TIMESHEET_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
}
