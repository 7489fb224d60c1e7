package logger

import (
	"io"
	"os"
	"strconv"
	"strings"
)

// envPrefix namespaces logger variables so they do not collide with the
// ffmpeg and whisper tooling sharing the container environment. The
// unprefixed name is still honoured as a fallback.
const envPrefix = "VIDFLOW_"

// Environments recognised by NewFromEnv. Anything else is treated as local.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// EnvConfig is the logger configuration read from the environment.
type EnvConfig struct {
	Level       string
	Format      string    // json or text
	Output      io.Writer // overrides every file and stdout setting when set
	ServiceName string
	Environment string

	// Outside local, logs are also written to LogFile through lumberjack.
	LogFile     string
	LogFileOnly bool
	MaxSize     int // MB
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
}

// LoadFromEnv reads VIDFLOW_LOG_* (or LOG_*) variables and normalizes them.
func LoadFromEnv() *EnvConfig {
	cfg := &EnvConfig{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", "vidflow"),
		Environment: envString("ENV", EnvLocal),

		LogFile:     envString("LOG_FILE", "/var/log/vidflow/pipeline.log"),
		LogFileOnly: envBool("LOG_FILE_ONLY", false),

		// Pipeline runs log per stage, so files rotate sooner and are kept
		// for two weeks.
		MaxSize:    envInt("LOG_MAX_SIZE", 50),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 14),
		MaxAge:     envInt("LOG_MAX_AGE", 14),
		Compress:   envBool("LOG_COMPRESS", true),
	}
	cfg.Normalize()
	return cfg
}

// Normalize lowercases enumerations and replaces invalid values with defaults.
func (c *EnvConfig) Normalize() {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		c.Level = "info"
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format != "text" {
		c.Format = "json"
	}

	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	switch c.Environment {
	case EnvDev, EnvProd:
	case "development":
		c.Environment = EnvDev
	case "production":
		c.Environment = EnvProd
	default:
		c.Environment = EnvLocal
	}

	if c.MaxSize <= 0 {
		c.MaxSize = 50
	}
	if c.MaxBackups < 0 {
		c.MaxBackups = 0
	}
	if c.MaxAge < 0 {
		c.MaxAge = 0
	}
}

// lookup returns the prefixed variable, then the bare one.
func lookup(key string) (string, bool) {
	for _, k := range []string{envPrefix + key, key} {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func envString(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
