package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 是应用配置的根结构体
type Config struct {
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Context  ContextConfig  `mapstructure:"context" yaml:"context"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ProviderConfig selects and configures the text-generation service.
type ProviderConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyFile string `mapstructure:"api_key_file" yaml:"api_key_file,omitempty"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model      string `mapstructure:"model" yaml:"model"`
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
}

// GetTimeout parses Timeout, defaulting to 2 minutes.
func (c *ProviderConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 2 * time.Minute
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// ResolveAPIKey returns APIKey, or the trimmed contents of APIKeyFile when
// APIKey is empty.
func (c *ProviderConfig) ResolveAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if c.APIKeyFile == "" {
		return "", nil
	}
	path, err := ExpandPath(c.APIKeyFile)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read api key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ContextConfig 上下文预算配置
type ContextConfig struct {
	TokenBudget        int     `mapstructure:"token_budget" yaml:"token_budget"`
	Encoding           string  `mapstructure:"encoding" yaml:"encoding,omitempty"`
	OverflowPolicy     string  `mapstructure:"overflow_policy" yaml:"overflow_policy"`
	SummaryMaxTokens   int     `mapstructure:"summary_max_tokens" yaml:"summary_max_tokens"`
	SummaryTemperature float64 `mapstructure:"summary_temperature" yaml:"summary_temperature"`
}

// Budget returns TokenBudget, or the model-derived default when unset:
// 8192 for gpt-4, 4096 for everything else.
func (c *ContextConfig) Budget(model string) int {
	if c.TokenBudget > 0 {
		return c.TokenBudget
	}
	if model == "gpt-4" {
		return 8192
	}
	return 4096
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffUnit time.Duration `mapstructure:"backoff_unit" yaml:"backoff_unit"`
}

// SessionConfig controls turn orchestration.
type SessionConfig struct {
	NamingEnabled bool   `mapstructure:"naming_enabled" yaml:"naming_enabled"`
	SystemPrompt  string `mapstructure:"system_prompt" yaml:"system_prompt"`
	DefaultTitle  string `mapstructure:"default_title" yaml:"default_title"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Port        int      `mapstructure:"port" yaml:"port"`
	Host        string   `mapstructure:"host" yaml:"host"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("KRONOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// 忽略文件不存在错误
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Reload re-reads the config file previously passed to Load.
func Reload() (*Config, error) {
	mu.RLock()
	path := configPath
	mu.RUnlock()
	if path == "" {
		return nil, errors.New("config path not set")
	}
	return Load(path)
}

// Path returns the config file path passed to Load, if any.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Get 获取任意配置键值
func Get(key string) any {
	return viper.Get(key)
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// 0600: may contain the API key
	return os.WriteFile(path, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
