package startup

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"media-archive/internal/logging"

	"github.com/dustin/go-humanize"
)

var rule = strings.Repeat("-", 60)

// section opens a block of the boot report.
func section(title string, args ...any) {
	logging.Info("")
	logging.Info("%s", rule)
	logging.Info(title, args...)
	logging.Info("%s", rule)
}

// field logs one aligned label/value line.
func field(label, format string, args ...any) {
	logging.Info("  %-17s %s", label+":", fmt.Sprintf(format, args...))
}

func ok(format string, args ...any) {
	logging.Info("  [OK] "+format, args...)
}

const banner = `
    __  ___         ___          ___              __    _
   /  |/  /__  ____/ (_)___ _   /   |  __________/ /_  (_)   _____
  / /|_/ / _ \/ __  / / __ '/  / /| | / ___/ ___/ __ \/ / | / / _ \
 / /  / /  __/ /_/ / / /_/ /  / ___ |/ /  / /__/ / / / /| |/ /  __/
/_/  /_/\___/\__,_/_/\__,_/  /_/  |_/_/   \___/_/ /_/_/ |___/\___/
`

func printBanner() {
	fmt.Println(rule + banner + rule)
	field("Version", "%s", Version)
	field("Commit", "%s", Commit)
	field("Build time", "%s", BuildTime)
	field("Started", "%s", time.Now().Format(time.RFC1123))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	field("Go version", "%s", runtime.Version())
	field("OS/Arch", "%s/%s", runtime.GOOS, runtime.GOARCH)
	procs, cpus := runtime.GOMAXPROCS(0), runtime.NumCPU()
	if procs < cpus {
		field("CPUs", "%d of %d (container limit)", procs, cpus)
	} else {
		field("CPUs", "%d", cpus)
	}

	if !logging.IsDebugEnabled() {
		return
	}
	if wd, err := os.Getwd(); err == nil {
		logging.Debug("  Working dir:      %s", wd)
	}
	if host, err := os.Hostname(); err == nil {
		logging.Debug("  Hostname:         %s", host)
	}
}

func logConfig(cfg *Config) {
	section("CONFIGURATION")
	if cfg.Source != "" {
		field("Config file", "%s", cfg.Source)
	}
	field("Archive dir", "%s", cfg.ArchiveDir)
	field("Database dir", "%s", cfg.DatabaseDir)
	field("Port", "%s", cfg.Port)
	if cfg.MetricsEnabled {
		field("Metrics port", "%s", cfg.MetricsPort)
	} else {
		field("Metrics", "disabled")
	}
	if cfg.IngestWorkers == 0 {
		field("Ingest workers", "auto")
	} else {
		field("Ingest workers", "%d", cfg.IngestWorkers)
	}
	field("Cache budget", "%s", cfg.CacheBudget)
	field("Preload workers", "%d", cfg.PreloadWorkers)
	field("Tool timeout", "%s", cfg.ToolTimeout)
	field("Thumbnails", "%d / %d / %d", cfg.ThumbSmall, cfg.ThumbLarge, cfg.ThumbPreview)
	field("Poster offset", "%s", cfg.PosterOffset)
	field("Probe logging", "%v", cfg.LogHealthChecks)
	field("Log level", "%s", logging.GetLevel())
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(took time.Duration) {
	section("DATABASE")
	ok("Migrated and opened in %v", took)
}

// LogArchiveInit logs the content store and the derivative tiers.
func LogArchiveInit(cfg *Config, vips bool) {
	section("ARCHIVE")
	field("Content store", "%s", cfg.ArchiveDir)
	field("Tiers", "small=%d large=%d preview=%d", cfg.ThumbSmall, cfg.ThumbLarge, cfg.ThumbPreview)
	decoder := "libvips"
	if !vips {
		decoder = "Go (libvips unavailable)"
	}
	field("Image decoder", "%s", decoder)
}

// LogIngestInit logs the ingest pool and cache sizing.
func LogIngestInit(workers int, budget uint64, preloadWorkers int) {
	section("INGEST")
	field("Workers", "%d", workers)
	field("Cache budget", "%s", humanize.IBytes(budget))
	field("Preload workers", "%d", preloadWorkers)
	ok("Coordinator started")
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs the listening endpoints.
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED in %v", config.StartupDuration)
	field("API", "http://0.0.0.0:%s/api", config.Port)
	if config.MetricsEnabled {
		field("Metrics", "http://0.0.0.0:%s/metrics", config.MetricsPort)
	}
	logging.Info("%s", rule)
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(reason string) {
	section("SHUTDOWN (%s)", reason)
}

// LogShutdownStep logs a shutdown step at debug level.
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	ok("%s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	ok("Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...any) {
	logging.Fatal(format, args...)
}
