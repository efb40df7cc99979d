package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Storage.Backend == StorageLocal && c.Paths.StorageDir == "" {
		return errors.New("paths.storage_dir must be set when storage.backend is local")
	}
	if c.Paths.StagingDir == c.Paths.StorageDir {
		return errors.New("paths.staging_dir and paths.storage_dir must differ")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if err := ensurePositiveMap(map[string]int{
		"server.read_timeout_seconds":       c.Server.ReadTimeoutSeconds,
		"pipeline.max_concurrent":           c.Pipeline.MaxConcurrent,
		"pipeline.queue_size":               c.Pipeline.QueueSize,
		"pipeline.job_timeout_minutes":      c.Pipeline.JobTimeoutMinutes,
		"pipeline.progress_ttl_hours":       c.Pipeline.ProgressTTLHours,
		"pipeline.sweep_interval_seconds":   c.Pipeline.SweepIntervalSeconds,
		"pipeline.stale_staging_hours":      c.Pipeline.StaleStagingHours,
		"transcoder.segment_seconds":        c.Transcoder.SegmentSeconds,
		"transcoder.probe_timeout_seconds":  c.Transcoder.ProbeTimeoutSeconds,
		"transcoder.frame_timeout_seconds":  c.Transcoder.FrameTimeoutSeconds,
		"transcoder.encode_timeout_minutes": c.Transcoder.EncodeTimeoutMinutes,
		"transcoder.thumbnail_width":        c.Transcoder.ThumbnailWidth,
		"transcoder.thumbnail_height":       c.Transcoder.ThumbnailHeight,
		"transcoder.poster_width":           c.Transcoder.PosterWidth,
		"transcoder.poster_height":          c.Transcoder.PosterHeight,
	}); err != nil {
		return err
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	if c.Pipeline.MinFreeMB < 0 {
		return errors.New("pipeline.min_free_mb must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be greater than or equal to retry.base_delay_ms")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateBackends() error {
	switch c.Catalog.Driver {
	case CatalogSQLite:
	case CatalogPostgres:
		if c.Catalog.DSN == "" {
			return errors.New("catalog.dsn must be set when catalog.driver is postgres (or set VODPIPE_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("catalog.driver: unsupported value %q", c.Catalog.Driver)
	}

	switch c.Progress.Backend {
	case ProgressMemory:
	case ProgressRedis:
		if c.Progress.RedisAddr == "" {
			return errors.New("progress.redis_addr must be set when progress.backend is redis")
		}
	default:
		return fmt.Errorf("progress.backend: unsupported value %q", c.Progress.Backend)
	}

	switch c.Storage.Backend {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set when storage.backend is s3")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}

	if topic := c.Notifications.NtfyTopic; topic != "" {
		if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
			return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
