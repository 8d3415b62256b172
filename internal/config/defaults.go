package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	// Provider
	viper.SetDefault("provider.name", "openai")
	viper.SetDefault("provider.model", "gpt-4")
	viper.SetDefault("provider.timeout", "2m")

	// Context budget. token_budget 0 means "derive from model".
	viper.SetDefault("context.token_budget", 0)
	viper.SetDefault("context.overflow_policy", "truncate")
	viper.SetDefault("context.summary_max_tokens", 100)
	viper.SetDefault("context.summary_temperature", 0.5)

	// Retry
	viper.SetDefault("retry.max_retries", 5)
	viper.SetDefault("retry.backoff_unit", 1*time.Second)

	// Session
	viper.SetDefault("session.naming_enabled", true)
	viper.SetDefault("session.system_prompt", "You are a helpful assistant.")
	viper.SetDefault("session.default_title", "New Chat")

	// Storage
	viper.SetDefault("storage.driver", "file")
	viper.SetDefault("storage.path", "")

	// Gateway
	viper.SetDefault("gateway.port", 5000)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.cors_origins", []string{"*"})

	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")
}

// Default returns a Config populated with the same values as SetDefaults.
// Used by `kronos config init` to write a starter file.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{Name: "openai", Model: "gpt-4", Timeout: "2m"},
		Context: ContextConfig{
			OverflowPolicy:     "truncate",
			SummaryMaxTokens:   100,
			SummaryTemperature: 0.5,
		},
		Retry:   RetryConfig{MaxRetries: 5, BackoffUnit: time.Second},
		Session: SessionConfig{NamingEnabled: true, SystemPrompt: "You are a helpful assistant.", DefaultTitle: "New Chat"},
		Storage: StorageConfig{Driver: "file"},
		Gateway: GatewayConfig{Port: 5000, Host: "127.0.0.1", CORSOrigins: []string{"*"}},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}
