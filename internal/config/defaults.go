package config

const (
	defaultConfigPath          = "~/.config/sermonpipe/config.toml"
	defaultScratchDir          = "~/.local/share/sermonpipe/scratch"
	defaultDataDir             = "~/.local/share/sermonpipe"
	defaultLogDir              = "~/.local/share/sermonpipe/logs"
	defaultLocalStorageRoot    = "~/.local/share/sermonpipe/bucket"
	defaultAPIBind             = "127.0.0.1:7590"
	defaultDispatcherTimeout   = 1800
	defaultSafetyMargin        = 30
	defaultDrainTimeout        = 20
	defaultDocumentPollTries   = 3
	defaultDocumentPollDelay   = 5
	defaultDownloadBandEnd     = 20
	defaultTranscodeBandEnd    = 95
	defaultSlowSampleThreshold = 5
	defaultSlowThroughputBytes = 64 * 1024
	defaultOutputPrefix        = "processed-sermons"
	defaultSignedURLTTL        = 3600
	defaultFetchTimeout        = 300
	defaultMaxAttempts         = 2
	defaultMinBackoff          = 10
	defaultMaxBackoff          = 300
	defaultPollInterval        = 2
	defaultWorkers             = 1
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultProgressKeyPrefix   = "addIntroOutro"
	defaultProgressTTL         = 7200
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"

	DocumentsSQLite   = "sqlite"
	DocumentsPostgres = "postgres"

	ProgressMemory = "memory"
	ProgressRedis  = "redis"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ScratchDir: defaultScratchDir,
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Binaries: Binaries{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			YTDLP:   "yt-dlp",
		},
		Pipeline: Pipeline{
			DispatcherTimeout:   defaultDispatcherTimeout,
			SafetyMargin:        defaultSafetyMargin,
			DrainTimeout:        defaultDrainTimeout,
			DocumentPollTries:   defaultDocumentPollTries,
			DocumentPollDelay:   defaultDocumentPollDelay,
			DownloadBandEnd:     defaultDownloadBandEnd,
			TranscodeBandEnd:    defaultTranscodeBandEnd,
			SlowSampleThreshold: defaultSlowSampleThreshold,
			SlowThroughputBytes: defaultSlowThroughputBytes,
			OutputPrefix:        defaultOutputPrefix,
			SignedURLTTL:        defaultSignedURLTTL,
			FetchTimeout:        defaultFetchTimeout,
		},
		Queue: Queue{
			MaxAttempts:       defaultMaxAttempts,
			MinBackoff:        defaultMinBackoff,
			MaxBackoff:        defaultMaxBackoff,
			PollInterval:      defaultPollInterval,
			Workers:           defaultWorkers,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
		},
		Storage: Storage{
			Backend:   StorageLocal,
			LocalRoot: defaultLocalStorageRoot,
		},
		Documents: Documents{
			Driver: DocumentsSQLite,
		},
		Progress: Progress{
			Backend:   ProgressMemory,
			KeyPrefix: defaultProgressKeyPrefix,
			TTL:       defaultProgressTTL,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
