// Command signbridge runs the sign recognition service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ayusman/signbridge/internal/app"
	"github.com/ayusman/signbridge/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("signbridge", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "signbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog := newLogger(cfg.Server)
	defer closeLog()
	slog.SetDefault(logger)

	if cfg.Store.Path == "" {
		if cfg.Store.Path, err = defaultStorePath(); err != nil {
			return err
		}
	}
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = findWebDir()
	}
	if cfg.Server.StaticDir != "" {
		logger.Info("serving static files", "dir", cfg.Server.StaticDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting signbridge", "version", version, "addr", cfg.Server.ListenAddr, "store", cfg.Store.Path)
	a, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithVersion(version))
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func newLogger(sc config.ServerConfig) (*slog.Logger, func()) {
	var lvl slog.Level
	switch sc.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if sc.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   sc.LogFile,
			MaxSize:    sc.LogMaxSizeMB,
			MaxBackups: sc.LogMaxBackups,
			MaxAge:     sc.LogMaxAgeDays,
			LocalTime:  true,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, file)
		closeFn = func() { _ = file.Close() }
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if sc.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), closeFn
	}
	return slog.New(slog.NewTextHandler(out, opts)), closeFn
}

// defaultStorePath returns ~/.signbridge/signbridge.db, creating the
// directory.
func defaultStorePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".signbridge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return filepath.Join(dir, "signbridge.db"), nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.signbridge/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if absPath, err := filepath.Abs(p); err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".signbridge", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
