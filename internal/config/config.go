package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds process-level configuration. Runtime tunables such as the
// cutoff time or the skip allowance live in the settings store, not here.
type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseDSN string
	RedisAddr   string

	AppURL               string
	MoyasarSecretKey     string
	MoyasarWebhookSecret string
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getenv("SUFRA_ENV", "development"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseDSN:          os.Getenv("DATABASE_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AppURL:               getenv("APP_URL", "http://localhost:8080"),
		MoyasarSecretKey:     os.Getenv("MOYASAR_SECRET_KEY"),
		MoyasarWebhookSecret: os.Getenv("MOYASAR_WEBHOOK_SECRET"),
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Module("config",
	fx.Provide(Load),
)
