// config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cashback-bot/internal/flow"
	"cashback-bot/internal/ledger"
)

type Config struct {
	Telegram struct {
		Token   string
		Channel string
	}
	DB  ledger.Config
	GPT struct {
		APIKey string
		Model  string
	}
	Server struct {
		Port string
	}
	Campaign struct {
		Article      string
		PayoutMarker string
	}
	Flow struct {
		LongTextMin int
		AckWords    []string
	}
	Dedup struct {
		InMemory bool
	}
	ShutdownTimeout time.Duration
}

// Load loads the configuration from config file and environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.cashback-bot")

	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("GPT.Model", "gpt-4")
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("Campaign.PayoutMarker", flow.DefaultPayoutMarker)
	v.SetDefault("Flow.LongTextMin", flow.DefaultLongTextMin)
	v.SetDefault("Flow.AckWords", flow.DefaultAckWords)
	v.SetDefault("Dedup.InMemory", false)

	v.AutomaticEnv()

	err := v.ReadInConfig()

	// Without a config file fall back to environment variables only.
	if err != nil {
		fmt.Printf("Config file not found: %v\n", err)

		cfg := &Config{}

		cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
		cfg.Telegram.Channel = os.Getenv("TELEGRAM_CHANNEL")
		cfg.DB.Host = getEnvOr("DB_HOST", "localhost")
		cfg.DB.Port = getEnvOr("DB_PORT", "5432")
		cfg.DB.User = getEnvOr("DB_USER", "postgres")
		cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
		cfg.DB.DBName = getEnvOr("DB_NAME", "cashback_bot")
		cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", "disable")
		cfg.DB.MaxOpenConns = 20
		cfg.DB.MaxIdleConns = 10
		cfg.DB.ConnLifetime = 5 * time.Minute
		cfg.GPT.APIKey = os.Getenv("GPT_API_KEY")
		cfg.GPT.Model = getEnvOr("GPT_MODEL", "gpt-4")
		cfg.Server.Port = getEnvOr("SERVER_PORT", "8080")
		cfg.Campaign.Article = os.Getenv("CAMPAIGN_ARTICLE")
		cfg.Campaign.PayoutMarker = getEnvOr("CAMPAIGN_PAYOUT_MARKER", flow.DefaultPayoutMarker)
		cfg.Flow.LongTextMin = flow.DefaultLongTextMin
		cfg.Flow.AckWords = flow.DefaultAckWords
		cfg.ShutdownTimeout = 10 * time.Second

		return cfg, nil
	}

	// Process any ${ENV_VAR} syntax in the config values.
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

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
