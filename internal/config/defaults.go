package config

const (
	defaultStagingDir           = "~/.local/share/vodpipe/staging"
	defaultStorageDir           = "~/.local/share/vodpipe/media"
	defaultStateDir             = "~/.local/share/vodpipe/state"
	defaultLogDir               = "~/.local/share/vodpipe/logs"
	defaultBind                 = "127.0.0.1:8480"
	defaultMaxUploadMB          = 2048
	defaultReadTimeoutSeconds   = 600
	defaultMaxConcurrent        = 2
	defaultQueueSize            = 64
	defaultJobTimeoutMinutes    = 180
	defaultProgressTTLHours     = 24
	defaultSweepIntervalSeconds = 300
	defaultStaleStagingHours    = 48
	defaultMinFreeMB            = 1024
	defaultRetryMaxAttempts     = 3
	defaultRetryBaseDelayMS     = 500
	defaultRetryMaxDelayMS      = 8000
	defaultRetryJitter          = 0.2
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultSegmentSeconds       = 6
	defaultVideoPreset          = "veryfast"
	defaultProbeTimeoutSeconds  = 60
	defaultFrameTimeoutSeconds  = 120
	defaultEncodeTimeoutMinutes = 120
	defaultThumbnailWidth       = 320
	defaultThumbnailHeight      = 180
	defaultPosterWidth          = 1280
	defaultPosterHeight         = 720
	defaultRedisAddr            = "127.0.0.1:6379"
	defaultProgressKeyPrefix    = "vodpipe:progress:"
	defaultNtfyTimeoutSeconds   = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Catalog drivers.
const (
	CatalogSQLite   = "sqlite"
	CatalogPostgres = "postgres"
)

// Progress store backends.
const (
	ProgressMemory = "memory"
	ProgressRedis  = "redis"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			StorageDir: defaultStorageDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Server: Server{
			Bind:               defaultBind,
			MaxUploadMB:        defaultMaxUploadMB,
			ReadTimeoutSeconds: defaultReadTimeoutSeconds,
		},
		Pipeline: Pipeline{
			MaxConcurrent:        defaultMaxConcurrent,
			QueueSize:            defaultQueueSize,
			JobTimeoutMinutes:    defaultJobTimeoutMinutes,
			ProgressTTLHours:     defaultProgressTTLHours,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
			StaleStagingHours:    defaultStaleStagingHours,
			MinFreeMB:            defaultMinFreeMB,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelayMS: defaultRetryBaseDelayMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
			Jitter:      defaultRetryJitter,
		},
		Transcoder: Transcoder{
			FFmpegBinary:         defaultFFmpegBinary,
			FFprobeBinary:        defaultFFprobeBinary,
			SegmentSeconds:       defaultSegmentSeconds,
			VideoPreset:          defaultVideoPreset,
			ProbeTimeoutSeconds:  defaultProbeTimeoutSeconds,
			FrameTimeoutSeconds:  defaultFrameTimeoutSeconds,
			EncodeTimeoutMinutes: defaultEncodeTimeoutMinutes,
			ThumbnailWidth:       defaultThumbnailWidth,
			ThumbnailHeight:      defaultThumbnailHeight,
			PosterWidth:          defaultPosterWidth,
			PosterHeight:         defaultPosterHeight,
		},
		Catalog: Catalog{
			Driver: CatalogSQLite,
		},
		Progress: Progress{
			Backend:   ProgressMemory,
			RedisAddr: defaultRedisAddr,
			KeyPrefix: defaultProgressKeyPrefix,
		},
		Storage: Storage{
			Backend: StorageLocal,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			NotifyComplete:        true,
			NotifyFailed:          true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
