package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AuthAddr string `env:"AUTH_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// base64 encoded HMAC key, at least 32 bytes once decoded
	JWTSecret     string        `env:"JWT_SECRET"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"336h"`
	AccessHeader  string        `env:"JWT_ACCESS_HEADER" envDefault:"Authorization"`
	RefreshHeader string        `env:"JWT_REFRESH_HEADER" envDefault:"X-Refresh-Token"`

	OAuth OAuthConfig

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"member_events"`

	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"0s"`
}

type OAuthConfig struct {
	CallbackBaseURL string `env:"OAUTH2_CALLBACK_BASE_URL" envDefault:"http://localhost:8080"`
	RedirectURI     string `env:"OAUTH2_REDIRECT_URI" envDefault:"http://localhost:3000/oauth2/redirect"`
	FailureURI      string `env:"OAUTH2_FAILURE_URI" envDefault:"/login"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	NaverClientID     string `env:"NAVER_CLIENT_ID"`
	NaverClientSecret string `env:"NAVER_CLIENT_SECRET"`

	KakaoClientID     string `env:"KAKAO_CLIENT_ID"`
	KakaoClientSecret string `env:"KAKAO_CLIENT_SECRET"`

	AppleClientID   string `env:"APPLE_CLIENT_ID"`
	AppleTeamID     string `env:"APPLE_TEAM_ID"`
	AppleKeyID      string `env:"APPLE_KEY_ID"`
	ApplePrivateKey string `env:"APPLE_PRIVATE_KEY"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}
	return Parse()
}

// Parse reads the process environment only; Load additionally picks up .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("missing required env JWT_SECRET"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("missing required env DATABASE_URL"))
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be longer than a positive JWT_ACCESS_TTL"))
	}
	return errors.Join(errs...)
}
