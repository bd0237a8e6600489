package config

import (
	"os"

	"github.com/spf13/viper"
)

// Load reads configuration from path (when it exists), layered on top
// of the defaults, then applies secret overrides from the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	return v.Unmarshal(cfg)
}

// applyEnv pulls secrets and ad-hoc overrides from the environment.
// Secrets never live in the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EXTRACTION_API_KEY"); v != "" {
		cfg.Extraction.APIKey = v
	}
	if v := os.Getenv("PAYMENT_SECRET_KEY"); v != "" {
		cfg.Payments.SecretKey = v
	}
	if v := os.Getenv("PAYMENT_WEBHOOK_SECRET"); v != "" {
		cfg.Payments.WebhookSecret = v
	}
	if v := os.Getenv("BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}
