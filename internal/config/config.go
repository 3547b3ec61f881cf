package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB           DBConfig
	JWT          JWTConfig
	Server       ServerConfig
	RelyingParty RPConfig
	SMS          SMSConfig
	OTP          OTPConfig
	Challenge    ChallengeConfig
	Redis        RedisConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

// RPConfig is the WebAuthn relying-party identity credentials are bound to.
type RPConfig struct {
	ID          string
	DisplayName string
	Origins     []string
}

type SMSConfig struct {
	URL      string
	APIKey   string
	SenderID string
}

type OTPConfig struct {
	TTL time.Duration
}

type ChallengeConfig struct {
	TTL time.Duration
	// Backend selects the challenge store: "postgres" (default) or "redis".
	Backend string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "agendly"),
			Password: getEnv("DB_PASSWORD", "agendly_secret"),
			Name:     getEnv("DB_NAME", "agendly"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		},
		RelyingParty: RPConfig{
			ID:          getEnv("RP_ID", "localhost"),
			DisplayName: getEnv("RP_DISPLAY_NAME", "Agendly"),
			Origins:     getEnvAsList("RP_ORIGINS", []string{"http://localhost:3001"}),
		},
		SMS: SMSConfig{
			URL:      getEnv("SMS_GATEWAY_URL", "http://localhost:9090/send"),
			APIKey:   getEnv("SMS_API_KEY", ""),
			SenderID: getEnv("SMS_SENDER_ID", "AGENDLY"),
		},
		OTP: OTPConfig{
			TTL: getEnvAsDuration("OTP_TTL", 5*time.Minute),
		},
		Challenge: ChallengeConfig{
			TTL:     getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
			Backend: getEnv("CHALLENGE_BACKEND", "postgres"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		if len(items) > 0 {
			return items
		}
	}
	return fallback
}
