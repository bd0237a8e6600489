package config

import "time"

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Broker     BrokerConfig     `yaml:"broker" mapstructure:"broker"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Payments   PaymentsConfig   `yaml:"payments" mapstructure:"payments"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Workers    WorkersConfig    `yaml:"workers" mapstructure:"workers"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// StoreConfig configures order persistence.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// BrokerConfig configures the message broker.
type BrokerConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// CatalogConfig points at the product catalog seed file.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ExtractionConfig configures the item-extraction service client.
// The API key comes from EXTRACTION_API_KEY, never from the file.
type ExtractionConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" mapstructure:"attempt_timeout"`
	APIKey         string        `yaml:"-" mapstructure:"-"`
}

// PaymentsConfig configures the payment gateway client. The secret key
// and webhook secret come from PAYMENT_SECRET_KEY and
// PAYMENT_WEBHOOK_SECRET.
type PaymentsConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" mapstructure:"attempt_timeout"`
	SecretKey      string        `yaml:"-" mapstructure:"-"`
	WebhookSecret  string        `yaml:"-" mapstructure:"-"`
}

// ResilienceConfig tunes the shared retry and breaker behavior applied
// to both external dependencies.
type ResilienceConfig struct {
	BreakerThreshold int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// WorkersConfig sizes the pipeline worker pool.
type WorkersConfig struct {
	Count int `yaml:"count" mapstructure:"count"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}
