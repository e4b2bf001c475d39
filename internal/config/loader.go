package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIGNBRIDGE_"

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with any SIGNBRIDGE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "text" && cfg.Server.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ReadLimitBytes <= 0 {
		errs = append(errs, errors.New("server.read_limit_bytes must be positive"))
	}

	// Detector
	switch cfg.Detector.Kind {
	case DetectorMediaPipe, DetectorMock:
	default:
		errs = append(errs, fmt.Errorf("detector.kind %q is invalid; valid values: mediapipe, mock", cfg.Detector.Kind))
	}
	if cfg.Detector.MaxHands < 1 {
		errs = append(errs, errors.New("detector.max_hands must be >= 1"))
	}
	if !unit(cfg.Detector.MinConfidence) {
		errs = append(errs, errors.New("detector.min_confidence must be in [0,1]"))
	}
	if !unit(cfg.Detector.MinTrackingConfidence) {
		errs = append(errs, errors.New("detector.min_tracking_confidence must be in [0,1]"))
	}

	// Classifier
	switch cfg.Classifier.Kind {
	case ClassifierHeuristic, ClassifierPrototype:
	default:
		errs = append(errs, fmt.Errorf("classifier.kind %q is invalid; valid values: heuristic, prototype", cfg.Classifier.Kind))
	}
	switch cfg.Classifier.Metric {
	case "", "euclidean", "cosine":
	default:
		errs = append(errs, fmt.Errorf("classifier.metric %q is invalid; valid values: euclidean, cosine", cfg.Classifier.Metric))
	}
	if cfg.Classifier.RejectDistance < 0 {
		errs = append(errs, errors.New("classifier.reject_distance must be >= 0"))
	}

	// Smoothing
	if cfg.Smoothing.Window < 1 {
		errs = append(errs, errors.New("smoothing.window must be >= 1"))
	}
	if !unit(cfg.Smoothing.MinConfidence) {
		errs = append(errs, errors.New("smoothing.min_confidence must be in [0,1]"))
	}
	if cfg.Smoothing.VoteThreshold <= 0 || cfg.Smoothing.VoteThreshold > 1 {
		errs = append(errs, errors.New("smoothing.vote_threshold must be in (0,1]"))
	}
	if cfg.Smoothing.StableMS < 0 || cfg.Smoothing.CooldownMS < 0 {
		errs = append(errs, errors.New("smoothing.stable_ms and smoothing.cooldown_ms must be >= 0"))
	}

	// Session
	if cfg.Session.QueueSize < 1 {
		errs = append(errs, errors.New("session.queue_size must be >= 1"))
	}
	if cfg.Session.Workers < 1 {
		errs = append(errs, errors.New("session.workers must be >= 1"))
	}
	if cfg.Session.MaxFPS < 0 {
		errs = append(errs, errors.New("session.max_fps must be >= 0"))
	}

	// Hooks
	if cfg.Hooks.TimeoutMS < 0 {
		errs = append(errs, errors.New("hooks.timeout_ms must be >= 0"))
	}

	return errors.Join(errs...)
}

func unit(x float64) bool {
	return x >= 0 && x <= 1
}
