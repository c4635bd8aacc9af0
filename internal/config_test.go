package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.CredentialMinLength != 32 {
		t.Errorf("CredentialMinLength = %d, want 32", cfg.CredentialMinLength)
	}
	if cfg.PollAttempts != 10 {
		t.Errorf("PollAttempts = %d, want 10", cfg.PollAttempts)
	}
	if cfg.PostStoreDelay != 500*time.Millisecond {
		t.Errorf("PostStoreDelay = %v, want 500ms", cfg.PostStoreDelay)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout())
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero_timeout", func(c *Config) { c.Timeout = 0 }, false},
		{"negative_retries", func(c *Config) { c.MaxRetries = -1 }, false},
		{"no_user_agents", func(c *Config) { c.UserAgentList = nil }, false},
		{"zero_poll_attempts", func(c *Config) { c.PollAttempts = 0 }, false},
		{"too_much_concurrency", func(c *Config) { c.Concurrency = 64 }, false},
		{"postgres", func(c *Config) { c.DatabaseDriver = "postgres" }, true},
		{"mysql", func(c *Config) { c.DatabaseDriver = "mysql" }, false},
		{"bad_log_format", func(c *Config) { c.LogFormat = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.ValidateConfig()
			if (err == nil) != tt.valid {
				t.Errorf("ValidateConfig() error = %v, want valid=%v", err, tt.valid)
			}
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panshare.yaml")
	content := []byte("timeout: 12\npoll_attempts: 4\npoll_interval: 50ms\nquark_save_dir: \"abc\"\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PANSHARE_MAX_RETRIES", "5")
	t.Setenv("QUARK_PAN_COOKIE", "legacy-quark-cookie")
	t.Setenv("DEFAULT_SAVE_DIR", "/resources")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Timeout != 12 {
		t.Errorf("Timeout = %d, want 12 from file", cfg.Timeout)
	}
	if cfg.PollAttempts != 4 {
		t.Errorf("PollAttempts = %d, want 4", cfg.PollAttempts)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", cfg.PollInterval)
	}
	if cfg.QuarkSaveDir != "abc" {
		t.Errorf("QuarkSaveDir = %q", cfg.QuarkSaveDir)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5 from env", cfg.MaxRetries)
	}
	if cfg.Cookie(ProviderQuark) != "legacy-quark-cookie" {
		t.Errorf("quark cookie = %q, want legacy env value", cfg.QuarkCookie)
	}
	if cfg.BaiduSaveDir != "/resources" {
		t.Errorf("BaiduSaveDir = %q", cfg.BaiduSaveDir)
	}
	if cfg.CredentialMinLength != 32 {
		t.Errorf("defaults should survive, CredentialMinLength = %d", cfg.CredentialMinLength)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadConfig should fail for a missing explicit file")
	}
}
