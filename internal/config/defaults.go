package config

const (
	defaultStagingDir         = "~/.local/share/snag/staging"
	defaultOutputDir          = "~/downloads/snag"
	defaultLogDir             = "~/.local/share/snag/logs"
	defaultAPIBind            = "127.0.0.1:7491"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultMaxPending         = 64
	defaultResolverBinary     = "yt-dlp"
	defaultResolverTimeout    = 60
	defaultTransferTimeout    = 600
	defaultMaxArtifactMiB     = 2048
	defaultUserAgent          = "snag/0.1"
	defaultFFmpegBinary       = "ffmpeg"
	defaultBaseTimeout        = 120
	defaultTimeoutPer100MiB   = 60
	defaultDeliveryRetries    = 1
	defaultWorkers            = 2
	defaultMaxAttempts        = 3
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultStagingMaxAgeHours = 24
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Queue: Queue{
			MaxPending: defaultMaxPending,
		},
		Fetch: Fetch{
			ResolverBinary:  defaultResolverBinary,
			ResolverTimeout: defaultResolverTimeout,
			TransferTimeout: defaultTransferTimeout,
			MaxArtifactMiB:  defaultMaxArtifactMiB,
			UserAgent:       defaultUserAgent,
		},
		Transcode: Transcode{
			FFmpegBinary:     defaultFFmpegBinary,
			BaseTimeout:      defaultBaseTimeout,
			TimeoutPer100MiB: defaultTimeoutPer100MiB,
		},
		Delivery: Delivery{
			Retries: defaultDeliveryRetries,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			JobCompleted:   true,
			JobFailed:      true,
			QueueAlerts:    true,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			MaxAttempts:        defaultMaxAttempts,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			StagingMaxAgeHours: defaultStagingMaxAgeHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
