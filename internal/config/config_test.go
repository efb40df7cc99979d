package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"vodpipe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "vodpipe", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Server.Bind != "127.0.0.1:8480" {
		t.Fatalf("unexpected bind: %q", cfg.Server.Bind)
	}
	if cfg.Transcoder.SegmentSeconds != 6 {
		t.Fatalf("expected 6s segments, got %d", cfg.Transcoder.SegmentSeconds)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("expected 3 retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.ProgressTTL().Hours() != 24 {
		t.Fatalf("expected 24h progress ttl, got %s", cfg.ProgressTTL())
	}
	if cfg.MaxUploadBytes() != 2<<30 {
		t.Fatalf("expected 2 GiB upload limit, got %d", cfg.MaxUploadBytes())
	}
	if cfg.CatalogPath() != filepath.Join(tempHome, ".local", "share", "vodpipe", "state", "catalog.db") {
		t.Fatalf("unexpected catalog path: %q", cfg.CatalogPath())
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	configPath := filepath.Join(t.TempDir(), "vodpipe.toml")
	content := `
[paths]
staging_dir = "~/custom/staging"
storage_dir = "/var/media"

[pipeline]
max_concurrent = 4

[catalog]
driver = "PostgreSQL"
dsn = "postgres://vodpipe@localhost/vodpipe"

[logging]
format = "JSON"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config to be found at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.StagingDir != filepath.Join(tempHome, "custom", "staging") {
		t.Fatalf("unexpected staging dir: %q", cfg.Paths.StagingDir)
	}
	if cfg.Pipeline.MaxConcurrent != 4 {
		t.Fatalf("expected max_concurrent 4, got %d", cfg.Pipeline.MaxConcurrent)
	}
	if cfg.Catalog.Driver != config.CatalogPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.Catalog.Driver)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	configPath := filepath.Join(t.TempDir(), "vodpipe.toml")
	if err := os.WriteFile(configPath, []byte("[pipeline]\nworkers = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("VODPIPE_S3_BUCKET", "media-bucket")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("VODPIPE_REDIS_ADDR", "redis.internal:6380")

	configPath := filepath.Join(t.TempDir(), "vodpipe.toml")
	content := "[storage]\nbackend = \"s3\"\n\n[progress]\nbackend = \"redis\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.S3Bucket != "media-bucket" || cfg.Storage.S3Region != "eu-west-1" {
		t.Fatalf("expected s3 settings from env, got %+v", cfg.Storage)
	}
	if cfg.Progress.RedisAddr != "redis.internal:6380" {
		t.Fatalf("expected redis addr from env, got %q", cfg.Progress.RedisAddr)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("VODPIPE_POSTGRES_DSN", "")
	os.Unsetenv("VODPIPE_POSTGRES_DSN")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("VODPIPE_POSTGRES_DSN=postgres://env@db/vodpipe\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("VODPIPE_POSTGRES_DSN") })
	if err := os.WriteFile(filepath.Join(dir, "vodpipe.toml"), []byte("[catalog]\ndriver = \"postgres\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(filepath.Join(dir, "vodpipe.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config to exist")
	}
	if cfg.Catalog.DSN != "postgres://env@db/vodpipe" {
		t.Fatalf("expected dsn from .env, got %q", cfg.Catalog.DSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero workers", func(c *config.Config) { c.Pipeline.MaxConcurrent = 0 }, "pipeline.max_concurrent"},
		{"no attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"jitter above one", func(c *config.Config) { c.Retry.Jitter = 1.5 }, "retry.jitter"},
		{"max below base", func(c *config.Config) { c.Retry.MaxDelayMS = 10 }, "retry.max_delay_ms"},
		{"postgres without dsn", func(c *config.Config) { c.Catalog.Driver = config.CatalogPostgres }, "catalog.dsn"},
		{"s3 without bucket", func(c *config.Config) { c.Storage.Backend = config.StorageS3 }, "storage.s3_bucket"},
		{"unknown progress backend", func(c *config.Config) { c.Progress.Backend = "etcd" }, "progress.backend"},
		{"bare ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "vodpipe-alerts" }, "notifications.ntfy_topic"},
		{"shared dirs", func(c *config.Config) { c.Paths.StorageDir = c.Paths.StagingDir }, "must differ"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.StagingDir = "/tmp/vodpipe/staging"
			cfg.Paths.StorageDir = "/tmp/vodpipe/media"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigParsesIntoDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	def := config.Default()
	if parsed.Pipeline != def.Pipeline || parsed.Retry != def.Retry || parsed.Transcoder != def.Transcoder {
		t.Fatalf("sample config drifted from defaults: %+v", parsed)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectoriesSkipsStorageForS3(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.StorageDir = filepath.Join(base, "media")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.Backend = config.StorageS3

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
	}
	if _, err := os.Stat(cfg.Paths.StorageDir); !os.IsNotExist(err) {
		t.Fatalf("expected storage dir to be skipped for s3, got %v", err)
	}
}
