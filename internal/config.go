package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PANSHARE"

// Config holds application configuration
type Config struct {
	Timeout       int      `mapstructure:"timeout"`
	MaxRetries    int      `mapstructure:"max_retries"`
	UserAgentList []string `mapstructure:"user_agents"`
	ProxyURL      string   `mapstructure:"proxy"`

	// Credential supplier
	CredentialMinLength int    `mapstructure:"credential_min_length"`
	QuarkCookie         string `mapstructure:"quark_cookie"`
	BaiduCookie         string `mapstructure:"baidu_cookie"`

	// Provider protocol tuning
	PollAttempts      int           `mapstructure:"poll_attempts"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PostStoreDelay    time.Duration `mapstructure:"post_store_delay"`
	QuarkSaveDir      string        `mapstructure:"quark_save_dir"`
	QuarkWaitDelete   bool          `mapstructure:"quark_wait_delete"`
	BaiduSaveDir      string        `mapstructure:"baidu_save_dir"`
	BdstokenTTL       time.Duration `mapstructure:"bdstoken_ttl"`
	BdstokenCacheSize int           `mapstructure:"bdstoken_cache_size"`

	// Batch refresh
	Concurrency int `mapstructure:"concurrency"`

	// Catalog
	DatabaseDriver string `mapstructure:"db_driver"`
	DatabaseDSN    string `mapstructure:"db_dsn"`

	// Logging configuration
	LogLevel    string `mapstructure:"log_level"`
	EnableDebug bool   `mapstructure:"debug"`
	QuietMode   bool   `mapstructure:"quiet"`
	LogFile     string `mapstructure:"log_file"`
	LogFormat   string `mapstructure:"log_format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:    30,
		MaxRetries: 3,
		UserAgentList: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},

		CredentialMinLength: 32,

		PollAttempts:      10,
		PollInterval:      500 * time.Millisecond,
		PostStoreDelay:    500 * time.Millisecond,
		QuarkSaveDir:      "0",
		BaiduSaveDir:      "/",
		BdstokenTTL:       30 * time.Minute,
		BdstokenCacheSize: 16,

		Concurrency: 4,

		DatabaseDriver: "sqlite3",
		DatabaseDSN:    "file:panshare.db?cache=shared&_foreign_keys=1",

		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
		LogFormat:   LogFormatConsole,
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// a .env file and PANSHARE_* environment variables, in increasing priority.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		GetLogger().Warn("failed to load .env file: %v", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewValidationErrorWithValue("config", "failed to read config file", path).
				WithSuggestion("Check that the file exists and is valid YAML").
				WithContext("error", err.Error())
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// names used by earlier deployments
	_ = v.BindEnv("quark_cookie", envPrefix+"_QUARK_COOKIE", "QUARK_PAN_COOKIE")
	_ = v.BindEnv("baidu_cookie", envPrefix+"_BAIDU_COOKIE", "BAIDU_PAN_COOKIE")
	_ = v.BindEnv("baidu_save_dir", envPrefix+"_BAIDU_SAVE_DIR", "DEFAULT_SAVE_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("timeout", c.Timeout)
	v.SetDefault("max_retries", c.MaxRetries)
	v.SetDefault("user_agents", c.UserAgentList)
	v.SetDefault("proxy", c.ProxyURL)
	v.SetDefault("credential_min_length", c.CredentialMinLength)
	v.SetDefault("quark_cookie", c.QuarkCookie)
	v.SetDefault("baidu_cookie", c.BaiduCookie)
	v.SetDefault("poll_attempts", c.PollAttempts)
	v.SetDefault("poll_interval", c.PollInterval)
	v.SetDefault("post_store_delay", c.PostStoreDelay)
	v.SetDefault("quark_save_dir", c.QuarkSaveDir)
	v.SetDefault("quark_wait_delete", c.QuarkWaitDelete)
	v.SetDefault("baidu_save_dir", c.BaiduSaveDir)
	v.SetDefault("bdstoken_ttl", c.BdstokenTTL)
	v.SetDefault("bdstoken_cache_size", c.BdstokenCacheSize)
	v.SetDefault("concurrency", c.Concurrency)
	v.SetDefault("db_driver", c.DatabaseDriver)
	v.SetDefault("db_dsn", c.DatabaseDSN)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("debug", c.EnableDebug)
	v.SetDefault("quiet", c.QuietMode)
	v.SetDefault("log_file", c.LogFile)
	v.SetDefault("log_format", c.LogFormat)
}

// RequestTimeout returns the per-request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Cookie returns the statically configured cookie for a provider
func (c *Config) Cookie(p ProviderIdentity) string {
	switch p {
	case ProviderQuark:
		return c.QuarkCookie
	case ProviderBaidu:
		return c.BaiduCookie
	default:
		return ""
	}
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.Timeout < 1 {
		return NewValidationErrorWithValue("timeout", "must be > 0", c.Timeout)
	}

	if c.MaxRetries < 0 {
		return NewValidationErrorWithValue("max_retries", "must be >= 0", c.MaxRetries)
	}

	if len(c.UserAgentList) == 0 {
		return NewValidationError("user_agents", "user agent list cannot be empty")
	}

	if c.CredentialMinLength < 1 {
		return NewValidationErrorWithValue("credential_min_length", "must be > 0", c.CredentialMinLength)
	}

	if c.PollAttempts < 1 {
		return NewValidationErrorWithValue("poll_attempts", "must be > 0", c.PollAttempts)
	}

	if c.PollInterval < 0 || c.PostStoreDelay < 0 {
		return NewValidationError("poll_interval", "delays cannot be negative")
	}

	if c.Concurrency < 1 || c.Concurrency > 32 {
		return NewValidationErrorWithValue("concurrency", "must be 1-32", c.Concurrency)
	}

	if c.BdstokenCacheSize < 1 {
		return NewValidationErrorWithValue("bdstoken_cache_size", "must be > 0", c.BdstokenCacheSize)
	}

	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return NewValidationErrorWithValue("db_driver", "unsupported database driver", c.DatabaseDriver).
			WithSuggestion("Use sqlite3 or postgres")
	}

	switch strings.ToLower(c.LogFormat) {
	case LogFormatConsole, LogFormatJSON, "":
	default:
		return NewValidationErrorWithValue("log_format", "unsupported log format", c.LogFormat)
	}

	return nil
}
