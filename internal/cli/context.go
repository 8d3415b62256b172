package cli

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"kronos/internal/compaction"
	"kronos/internal/config"
	"kronos/internal/generation"
	"kronos/internal/provider"
	"kronos/internal/provider/openai"
	"kronos/internal/session"
	"kronos/internal/storage"
	"kronos/pkg/logger"
)

// CLIContext carries the loaded configuration and lazily built services
// through a command invocation.
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	// newProvider is replaced in tests.
	newProvider func(cfg config.ProviderConfig) (provider.Provider, error)

	once    sync.Once
	stores  *storage.Stores
	manager *session.Manager
	err     error
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		Logger:      log,
		Verbose:     verbose,
		Quiet:       quiet,
		newProvider: newProvider,
	}
}

// Manager builds the conversation manager on first use.
func (c *CLIContext) Manager() (*session.Manager, error) {
	c.once.Do(func() {
		c.manager, c.err = c.build()
	})
	return c.manager, c.err
}

func (c *CLIContext) build() (*session.Manager, error) {
	cfg := c.Config

	p, err := c.newProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	model := cfg.Provider.Model
	if model == "" {
		model = openai.DefaultModel
	}
	counter := compaction.NewTokenCounter(cfg.Context.Encoding, model)

	policy, err := compaction.ParseOverflowPolicy(cfg.Context.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	compactionCfg := compaction.Config{
		Budget:           cfg.Context.Budget(model),
		OverflowPolicy:   policy,
		SummaryMaxTokens: cfg.Context.SummaryMaxTokens,
	}
	if err := compactionCfg.Validate(); err != nil {
		return nil, err
	}

	gen := generation.NewClient(p, generation.Config{
		Model:              model,
		SummaryMaxTokens:   cfg.Context.SummaryMaxTokens,
		SummaryTemperature: cfg.Context.SummaryTemperature,
		Retry: generation.RetryPolicy{
			MaxRetries:  cfg.Retry.MaxRetries,
			BackoffUnit: cfg.Retry.BackoffUnit,
		},
	})

	storagePath, err := c.StoragePath()
	if err != nil {
		return nil, err
	}
	stores, err := storage.OpenStores(cfg.Storage.Driver, storagePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	c.stores = stores

	c.Log().Debug().
		Str("provider", p.Name()).
		Str("model", model).
		Int("budget", compactionCfg.Budget).
		Str("storage", storagePath).
		Msg("Conversation manager ready")

	return session.NewManager(session.Config{
		SystemPrompt:  cfg.Session.SystemPrompt,
		NamingEnabled: cfg.Session.NamingEnabled,
		DefaultTitle:  cfg.Session.DefaultTitle,
		Compaction:    compactionCfg,
	}, gen, counter, stores.Contexts, stores.Transcripts), nil
}

// StoragePath resolves the configured storage location, falling back to the
// driver default under ~/.kronos.
func (c *CLIContext) StoragePath() (string, error) {
	if c.Config.Storage.Path != "" {
		return config.ExpandPath(c.Config.Storage.Path)
	}
	return config.DefaultStoragePath(c.Config.Storage.Driver)
}

// Close releases storage handles.
func (c *CLIContext) Close() error {
	if c.stores != nil {
		return c.stores.Close()
	}
	return nil
}

// Log returns the CLI logger.
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}

func newProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return provider.New(name, provider.Settings{
		APIKey:  key,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.GetTimeout(),
	})
}
