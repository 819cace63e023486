// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram struct {
		Token string
	}
	Backend struct {
		BaseURL string
		Timeout time.Duration
	}
	DB struct {
		Host         string
		Port         string
		User         string
		Password     string
		DBName       string
		SSLMode      string
		MaxOpenConns int
		MaxIdleConns int
		ConnLifetime time.Duration
	}
	Session struct {
		// EncryptionKey is a 32-byte key, hex or base64.
		EncryptionKey string
	}
	Stripe struct {
		SecretKey  string
		PublicKey  string
		WebhookKey string
		SuccessURL string
		CancelURL  string
	}
	GPT struct {
		APIKey string
		Model  string
	}
	Server struct {
		Port string
	}
	LogEnv          string
	ShutdownTimeout time.Duration
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// The type follows the file extension: config.yaml or config.json.
	v.SetConfigName("config")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.freezy-bot")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		return fromEnv(), nil
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("LogEnv", "production")
	v.SetDefault("Backend.Timeout", 15*time.Second)
	v.SetDefault("GPT.Model", "text-moderation-latest")
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
}

// fromEnv builds the configuration from environment variables alone, for
// deployments without a config file.
func fromEnv() *Config {
	cfg := &Config{}

	cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	cfg.Backend.BaseURL = os.Getenv("BACKEND_URL")
	cfg.Backend.Timeout = getDurationOr("BACKEND_TIMEOUT", 15*time.Second)
	cfg.DB.Host = getEnvOr("DB_HOST", "localhost")
	cfg.DB.Port = getEnvOr("DB_PORT", "5432")
	cfg.DB.User = getEnvOr("DB_USER", "postgres")
	cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
	cfg.DB.DBName = getEnvOr("DB_NAME", "freezy_bot")
	cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", "disable")
	cfg.DB.MaxOpenConns = getIntOr("DB_MAX_OPEN_CONNS", 20)
	cfg.DB.MaxIdleConns = getIntOr("DB_MAX_IDLE_CONNS", 10)
	cfg.DB.ConnLifetime = getDurationOr("DB_CONN_LIFETIME", 5*time.Minute)
	cfg.Session.EncryptionKey = os.Getenv("SESSION_ENCRYPTION_KEY")
	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.PublicKey = os.Getenv("STRIPE_PUBLIC_KEY")
	cfg.Stripe.WebhookKey = os.Getenv("STRIPE_WEBHOOK_KEY")
	cfg.Stripe.SuccessURL = os.Getenv("STRIPE_SUCCESS_URL")
	cfg.Stripe.CancelURL = os.Getenv("STRIPE_CANCEL_URL")
	cfg.GPT.APIKey = os.Getenv("GPT_API_KEY")
	cfg.GPT.Model = getEnvOr("GPT_MODEL", "text-moderation-latest")
	cfg.Server.Port = getEnvOr("SERVER_PORT", "8080")
	cfg.LogEnv = getEnvOr("LOG_ENV", "production")
	cfg.ShutdownTimeout = getDurationOr("SHUTDOWN_TIMEOUT", 10*time.Second)

	return cfg
}

// Validate reports the first missing setting the bot cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.Telegram.Token == "":
		return fmt.Errorf("telegram token is not configured")
	case c.Backend.BaseURL == "":
		return fmt.Errorf("backend base URL is not configured")
	case c.Session.EncryptionKey == "":
		return fmt.Errorf("session encryption key is not configured")
	case c.Stripe.SecretKey == "" || c.Stripe.WebhookKey == "":
		return fmt.Errorf("stripe configuration is incomplete")
	}
	return nil
}

// Helper function to get environment variable with default value
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOr(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getDurationOr(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
