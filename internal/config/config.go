// Package config defines the service configuration: a YAML file layered over
// built-in defaults, with SIGNBRIDGE_* environment variables applied last.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Detector kinds.
const (
	DetectorMediaPipe = "mediapipe"
	DetectorMock      = "mock"
)

// Classifier kinds.
const (
	ClassifierHeuristic = "heuristic"
	ClassifierPrototype = "prototype"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Store      StoreConfig      `yaml:"store" envPrefix:"STORE_"`
	Detector   DetectorConfig   `yaml:"detector" envPrefix:"DETECTOR_"`
	Classifier ClassifierConfig `yaml:"classifier" envPrefix:"CLASSIFIER_"`
	Smoothing  SmoothingConfig  `yaml:"smoothing" envPrefix:"SMOOTHING_"`
	Session    SessionConfig    `yaml:"session" envPrefix:"SESSION_"`
	Hooks      HooksConfig      `yaml:"hooks" envPrefix:"HOOKS_"`
}

// ServerConfig holds HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	LogLevel  LogLevel `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string   `yaml:"log_format" env:"LOG_FORMAT"` // text or json

	// LogFile, when set, also writes logs to a size-rotated file.
	LogFile       string `yaml:"log_file" env:"LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" env:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `yaml:"log_max_backups" env:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" env:"LOG_MAX_AGE_DAYS"`

	// StaticDir is served at /. Empty means search the default locations.
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"`

	// ReadLimitBytes caps one inbound WebSocket message.
	ReadLimitBytes int64 `yaml:"read_limit_bytes" env:"READ_LIMIT_BYTES"`

	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	// Path of the database file. Empty means ~/.signbridge/signbridge.db.
	Path string `yaml:"path" env:"PATH"`
}

// DetectorConfig selects and tunes the landmark provider.
type DetectorConfig struct {
	Kind                  string        `yaml:"kind" env:"KIND"`
	Script                string        `yaml:"script" env:"SCRIPT"`
	Python                string        `yaml:"python" env:"PYTHON"`
	MaxHands              int           `yaml:"max_hands" env:"MAX_HANDS"`
	MinConfidence         float64       `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	MinTrackingConfidence float64       `yaml:"min_tracking_confidence" env:"MIN_TRACKING_CONFIDENCE"`
	IdleTimeout           time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// ClassifierConfig selects the classification strategy.
type ClassifierConfig struct {
	Kind string `yaml:"kind" env:"KIND"`
	// Metric is euclidean or cosine; prototype classifier only.
	Metric string `yaml:"metric" env:"METRIC"`
	// RejectDistance maps matches farther than this to NONE. 0 disables.
	RejectDistance float64 `yaml:"reject_distance" env:"REJECT_DISTANCE"`
}

// SmoothingConfig tunes the commit state machine.
type SmoothingConfig struct {
	Window        int     `yaml:"window" env:"WINDOW"`
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	VoteThreshold float64 `yaml:"vote_threshold" env:"VOTE_THRESHOLD"`
	StableMS      int     `yaml:"stable_ms" env:"STABLE_MS"`
	CooldownMS    int     `yaml:"cooldown_ms" env:"COOLDOWN_MS"`
}

// SessionConfig tunes per-connection processing.
type SessionConfig struct {
	QueueSize        int     `yaml:"queue_size" env:"QUEUE_SIZE"`
	Workers          int     `yaml:"workers" env:"WORKERS"`
	MaxFPS           float64 `yaml:"max_fps" env:"MAX_FPS"`
	IncludeLandmarks bool    `yaml:"include_landmarks" env:"INCLUDE_LANDMARKS"`
}

// HooksConfig locates commit hook plugins.
type HooksConfig struct {
	// Dir is scanned for */plugin.json. Empty disables hooks.
	Dir       string `yaml:"dir" env:"DIR"`
	TimeoutMS int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8000",
			LogLevel:        LogInfo,
			LogFormat:       "text",
			LogMaxSizeMB:    50,
			LogMaxBackups:   3,
			LogMaxAgeDays:   28,
			ReadLimitBytes:  4 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Detector: DetectorConfig{
			Kind:                  DetectorMediaPipe,
			MaxHands:              1,
			MinConfidence:         0.5,
			MinTrackingConfidence: 0.5,
			IdleTimeout:           30 * time.Second,
		},
		Classifier: ClassifierConfig{
			Kind:   ClassifierHeuristic,
			Metric: "euclidean",
		},
		Smoothing: SmoothingConfig{
			Window:        10,
			MinConfidence: 0.75,
			VoteThreshold: 0.70,
			StableMS:      400,
			CooldownMS:    1000,
		},
		Session: SessionConfig{
			QueueSize:        4,
			Workers:          2,
			MaxFPS:           30,
			IncludeLandmarks: true,
		},
		Hooks: HooksConfig{
			TimeoutMS: 5000,
		},
	}
}
