// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. NOTICESCAN_ENGINE_WORKER_CONCURRENCY.
const EnvPrefix = "NOTICESCAN"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Scan() ScanConfig
	Filters() FiltersConfig
	Store() StoreConfig
	Dataset() DatasetConfig

	// Setters used by CLI flag overrides.
	SetEngineWorkerConcurrency(int)
	SetBrowserHeadless(bool)
	SetScanClick(bool)
	SetScanScreenshots(bool)
	SetStoreResultsDir(string)
	SetDataset(DatasetConfig)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	ScanCfg     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	FiltersCfg  FiltersConfig  `mapstructure:"filters" yaml:"filters"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
	DatasetCfg  DatasetConfig  `mapstructure:"dataset" yaml:"dataset"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Scan() ScanConfig         { return c.ScanCfg }
func (c *Config) Filters() FiltersConfig   { return c.FiltersCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }
func (c *Config) Dataset() DatasetConfig   { return c.DatasetCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetScanClick(b bool)              { c.ScanCfg.Click = b }
func (c *Config) SetScanScreenshots(b bool)        { c.ScanCfg.Screenshots = b }
func (c *Config) SetStoreResultsDir(dir string)    { c.StoreCfg.ResultsDir = dir }
func (c *Config) SetDataset(d DatasetConfig)       { c.DatasetCfg = d }

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to color names for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig enables the optional PostgreSQL result sink. An empty URL
// disables it.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig sizes the worker pool.
type EngineConfig struct {
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	// DispatchRate limits how many targets per second are handed to workers.
	// Zero disables throttling.
	DispatchRate  float64 `mapstructure:"dispatch_rate" yaml:"dispatch_rate"`
	DispatchBurst int     `mapstructure:"dispatch_burst" yaml:"dispatch_burst"`
	// TargetTimeout bounds one target including retries and clicks.
	TargetTimeout time.Duration `mapstructure:"target_timeout" yaml:"target_timeout"`
}

// BrowserConfig describes how Chromium is reached or launched.
type BrowserConfig struct {
	// DebuggerURL connects to an already running browser when set, e.g.
	// ws://127.0.0.1:9222/devtools/browser/<id>.
	DebuggerURL     string        `mapstructure:"debugger_url" yaml:"debugger_url"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU      bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	DenyPermissions bool          `mapstructure:"deny_permissions" yaml:"deny_permissions"`
	Persona         PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig overrides what every tab reports about the browser. Notices
// are often localized, so the locale decides which variant a scan sees.
// Empty fields keep the browser's own value.
type PersonaConfig struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
}

// ScanConfig holds the timing of one page scan.
type ScanConfig struct {
	NavigateTimeout  time.Duration `mapstructure:"navigate_timeout" yaml:"navigate_timeout"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ClickSettleDelay time.Duration `mapstructure:"click_settle_delay" yaml:"click_settle_delay"`
	ClickLoadTimeout time.Duration `mapstructure:"click_load_timeout" yaml:"click_load_timeout"`
	MaxClickables    int           `mapstructure:"max_clickables" yaml:"max_clickables"`
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Click            bool          `mapstructure:"click" yaml:"click"`
	Screenshots      bool          `mapstructure:"screenshots" yaml:"screenshots"`
}

// FiltersConfig lists the Adblock Plus filter files used for rule-based
// detection. Each file is reported under its base name.
type FiltersConfig struct {
	Lists []string `mapstructure:"lists" yaml:"lists"`
}

// StoreConfig locates the artifact directory and the optional local SQLite
// database. An empty SQLitePath disables the SQLite sink.
type StoreConfig struct {
	ResultsDir string `mapstructure:"results_dir" yaml:"results_dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// Dataset names.
const (
	DatasetTop     = "top"
	DatasetSampled = "sampled"
)

// DatasetConfig selects the domains to scan.
type DatasetConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	TopList     string `mapstructure:"top_list" yaml:"top_list"`
	TopCount    int    `mapstructure:"top_count" yaml:"top_count"`
	SampledList string `mapstructure:"sampled_list" yaml:"sampled_list"`
	// Start and End are inclusive ranks. End -1 scans to the end.
	Start int `mapstructure:"start" yaml:"start"`
	End   int `mapstructure:"end" yaml:"end"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "noticescan")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 1)
	v.SetDefault("engine.dispatch_rate", 0.0)
	v.SetDefault("engine.dispatch_burst", 1)
	v.SetDefault("engine.target_timeout", "30m")

	// -- Browser --
	v.SetDefault("browser.debugger_url", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.deny_permissions", false)
	v.SetDefault("browser.persona.enabled", false)
	v.SetDefault("browser.persona.user_agent", "")
	v.SetDefault("browser.persona.locale", "en-US")
	v.SetDefault("browser.persona.timezone", "")
	v.SetDefault("browser.persona.languages", []string{"en-US", "en"})

	// -- Scan --
	v.SetDefault("scan.navigate_timeout", "15s")
	v.SetDefault("scan.load_timeout", "30s")
	v.SetDefault("scan.settle_delay", "5s")
	v.SetDefault("scan.click_settle_delay", "1s")
	v.SetDefault("scan.click_load_timeout", "30s")
	v.SetDefault("scan.max_clickables", 5)
	v.SetDefault("scan.max_attempts", 4)
	v.SetDefault("scan.click", false)
	v.SetDefault("scan.screenshots", true)

	// -- Filters --
	v.SetDefault("filters.lists", []string{
		"resources/easylist-cookie.txt",
		"resources/i-dont-care-about-cookies.txt",
	})

	// -- Store --
	v.SetDefault("store.results_dir", "results")
	v.SetDefault("store.sqlite_path", "")

	// -- Dataset --
	v.SetDefault("dataset.name", DatasetTop)
	v.SetDefault("dataset.top_list", "resources/top-1m.csv")
	v.SetDefault("dataset.top_count", 2000)
	v.SetDefault("dataset.sampled_list", "resources/sampled-domains.txt")
	v.SetDefault("dataset.start", 1)
	v.SetDefault("dataset.end", -1)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever read from the environment.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every configured file path.
func (c *Config) expandPaths() error {
	var err error
	expand := func(p *string) {
		if err != nil || *p == "" {
			return
		}
		*p, err = homedir.Expand(*p)
	}
	expand(&c.StoreCfg.ResultsDir)
	expand(&c.StoreCfg.SQLitePath)
	expand(&c.DatasetCfg.TopList)
	expand(&c.DatasetCfg.SampledList)
	expand(&c.LoggerCfg.LogFile)
	for i := range c.FiltersCfg.Lists {
		expand(&c.FiltersCfg.Lists[i])
	}
	return err
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.EngineCfg.DispatchRate < 0 {
		return fmt.Errorf("engine.dispatch_rate must not be negative")
	}
	if err := c.ScanCfg.Validate(); err != nil {
		return fmt.Errorf("scan configuration invalid: %w", err)
	}
	if err := c.DatasetCfg.Validate(); err != nil {
		return fmt.Errorf("dataset configuration invalid: %w", err)
	}
	if c.StoreCfg.ResultsDir == "" {
		return fmt.Errorf("store.results_dir is required")
	}
	return nil
}

// Validate checks the scan timings.
func (s *ScanConfig) Validate() error {
	if s.LoadTimeout <= 0 || s.NavigateTimeout <= 0 {
		return errors.New("load_timeout and navigate_timeout must be positive durations")
	}
	if s.SettleDelay < 0 || s.ClickSettleDelay < 0 {
		return errors.New("settle delays must not be negative")
	}
	if s.MaxAttempts < 1 || s.MaxAttempts > 4 {
		return errors.New("max_attempts must be between 1 and 4")
	}
	if s.MaxClickables < 0 {
		return errors.New("max_clickables must not be negative")
	}
	return nil
}

// Validate checks the dataset selection.
func (d *DatasetConfig) Validate() error {
	switch d.Name {
	case DatasetTop, DatasetSampled:
	default:
		return fmt.Errorf("unknown dataset %q (expected %q or %q)", d.Name, DatasetTop, DatasetSampled)
	}
	if d.Start < 1 {
		return errors.New("start rank must be at least 1")
	}
	if d.End != -1 && d.End < d.Start {
		return errors.New("end rank must be -1 or not below the start rank")
	}
	return nil
}
