package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Pool          PoolConfig          `mapstructure:"pool"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Thumbnail     ThumbnailConfig     `mapstructure:"thumbnail"`
	Feedback      FeedbackConfig      `mapstructure:"feedback"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Alert         AlertConfig         `mapstructure:"alert"`
	FFmpeg        FFmpegConfig        `mapstructure:"ffmpeg"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	AllowAllOrigins bool          `mapstructure:"allow_all_origins"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path + "?_busy_timeout=5000"
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // r2, s3, s3compatible; empty = auto-detect
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// PoolConfig sizes the bounded worker pool and the admission threshold.
type PoolConfig struct {
	Workers            int           `mapstructure:"workers"`
	QueueCapacity      int           `mapstructure:"queue_capacity"`
	RejectionPolicy    string        `mapstructure:"rejection_policy"` // caller-runs or drop-with-alert
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	AdmissionThreshold float64       `mapstructure:"admission_threshold"`
	UsePresignedURL    bool          `mapstructure:"use_presigned_url"`
}

type SchedulerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StuckAfter time.Duration `mapstructure:"stuck_after"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type TranscriptionConfig struct {
	Engine             string        `mapstructure:"engine"` // whisper or remote
	PythonPath         string        `mapstructure:"python_path"`
	ScriptPath         string        `mapstructure:"script_path"`
	ModelSize          string        `mapstructure:"model_size"`
	ProcessTimeout     time.Duration `mapstructure:"process_timeout"`
	RemoteBaseURL      string        `mapstructure:"remote_base_url"`
	RemoteAPIKey       string        `mapstructure:"remote_api_key"`
	RemotePollInterval time.Duration `mapstructure:"remote_poll_interval"`
	RemoteTimeout      time.Duration `mapstructure:"remote_timeout"`
	LanguageCode       string        `mapstructure:"language_code"`

	LongVideoSeconds float64       `mapstructure:"long_video_seconds"`
	ChunkCount       int           `mapstructure:"chunk_count"`
	ChunkParallelism int           `mapstructure:"chunk_parallelism"`
	ChunkTimeout     time.Duration `mapstructure:"chunk_timeout"`
	JoinTimeout      time.Duration `mapstructure:"join_timeout"`
	ShortPresignTTL  time.Duration `mapstructure:"short_presign_ttl"`
	LongPresignTTL   time.Duration `mapstructure:"long_presign_ttl"`
}

type ThumbnailConfig struct {
	DefaultURL string        `mapstructure:"default_url"`
	MaxWidth   int           `mapstructure:"max_width"`
	MaxHeight  int           `mapstructure:"max_height"`
	Quality    int           `mapstructure:"quality"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type NotificationConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	Buffer      int           `mapstructure:"buffer"`
}

type AlertConfig struct {
	SlackWebhookURL string        `mapstructure:"slack_webhook_url"`
	QueueThreshold  float64       `mapstructure:"queue_threshold"`
	Interval        time.Duration `mapstructure:"interval"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

type FFmpegConfig struct {
	Binary string `mapstructure:"binary"`
}

// Load reads configuration from file, .env and environment variables.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("transcription.remote_api_key", "TRANSCRIBE_API_KEY")
	v.BindEnv("feedback.api_key", "OPENAI_API_KEY")
	v.BindEnv("feedback.base_url", "OPENAI_BASE_URL")
	v.BindEnv("alert.slack_webhook_url", "SLACK_WEBHOOK_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Feedback.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.cors.max_age", 10*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/vidflow.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "videos")

	v.SetDefault("pool.workers", 10)
	v.SetDefault("pool.queue_capacity", 50)
	v.SetDefault("pool.rejection_policy", "drop-with-alert")
	v.SetDefault("pool.task_timeout", 90*time.Minute)
	v.SetDefault("pool.admission_threshold", 0.8)
	v.SetDefault("pool.use_presigned_url", true)

	v.SetDefault("scheduler.interval", 2*time.Second)
	v.SetDefault("scheduler.stuck_after", 2*time.Hour)
	v.SetDefault("scheduler.max_retries", 3)

	v.SetDefault("transcription.engine", "whisper")
	v.SetDefault("transcription.python_path", "python3")
	v.SetDefault("transcription.script_path", "./scripts/whisper_stt.py")
	v.SetDefault("transcription.model_size", "base")
	v.SetDefault("transcription.process_timeout", 5*time.Minute)
	v.SetDefault("transcription.remote_poll_interval", 5*time.Second)
	v.SetDefault("transcription.remote_timeout", 10*time.Minute)
	v.SetDefault("transcription.language_code", "ko-KR")
	v.SetDefault("transcription.long_video_seconds", 300.0)
	v.SetDefault("transcription.chunk_count", 4)
	v.SetDefault("transcription.chunk_parallelism", 4)
	v.SetDefault("transcription.chunk_timeout", 60*time.Second)
	v.SetDefault("transcription.join_timeout", 60*time.Minute)
	v.SetDefault("transcription.short_presign_ttl", 10*time.Minute)
	v.SetDefault("transcription.long_presign_ttl", 60*time.Minute)

	v.SetDefault("thumbnail.default_url", "https://static.vidflow.dev/default-thumbnail.jpeg")
	v.SetDefault("thumbnail.max_width", 800)
	v.SetDefault("thumbnail.max_height", 600)
	v.SetDefault("thumbnail.quality", 85)
	v.SetDefault("thumbnail.timeout", 30*time.Second)

	v.SetDefault("feedback.enabled", false)
	v.SetDefault("feedback.model", "gpt-4o-mini")
	v.SetDefault("feedback.base_url", "https://api.openai.com/v1")
	v.SetDefault("feedback.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("feedback.provider", "openai-compatible")
	v.SetDefault("feedback.timeout", 60*time.Second)
	v.SetDefault("feedback.max_tokens", 600)

	v.SetDefault("notification.idle_timeout", time.Hour)
	v.SetDefault("notification.buffer", 16)

	v.SetDefault("alert.queue_threshold", 0.8)
	v.SetDefault("alert.interval", 10*time.Second)
	v.SetDefault("alert.cooldown", 5*time.Minute)

	v.SetDefault("ffmpeg.binary", "ffmpeg")
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be greater than 0")
	}
	if c.Pool.QueueCapacity < 1 {
		return fmt.Errorf("pool.queue_capacity must be greater than 0")
	}
	switch c.Pool.RejectionPolicy {
	case "caller-runs", "drop-with-alert":
	default:
		return fmt.Errorf("pool.rejection_policy %q: must be caller-runs or drop-with-alert", c.Pool.RejectionPolicy)
	}
	if c.Pool.AdmissionThreshold <= 0 || c.Pool.AdmissionThreshold > 1 {
		return fmt.Errorf("pool.admission_threshold must be in (0, 1]")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	switch c.Transcription.Engine {
	case "whisper":
	case "remote":
		if c.Transcription.RemoteBaseURL == "" {
			return fmt.Errorf("transcription.remote_base_url is required for the remote engine")
		}
	default:
		return fmt.Errorf("transcription.engine %q: must be whisper or remote", c.Transcription.Engine)
	}
	if c.Transcription.ChunkCount < 1 || c.Transcription.ChunkParallelism < 1 {
		return fmt.Errorf("transcription chunk_count and chunk_parallelism must be positive")
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		return fmt.Errorf("thumbnail.quality must be in [1, 100]")
	}
	if c.Feedback.Enabled {
		if err := c.Feedback.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetStorageConfig returns the storage configuration.
func (c *Config) GetStorageConfig() *StorageConfig {
	return &c.Storage
}
