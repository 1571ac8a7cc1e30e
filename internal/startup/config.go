package startup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"media-archive/internal/derivative"
	"media-archive/internal/extractor"
	"media-archive/internal/logging"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every configuration failure that should stop the
// process before anything is opened.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// ByteSize is a byte count that decodes from human-readable strings such
// as "256MiB", "1GB" or "1048576".
type ByteSize uint64

// UnmarshalText implements encoding.TextUnmarshaler so TOML values can be
// written the same way as the environment variable.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// Config holds all application configuration. Values come from built-in
// defaults, then the optional TOML file named by ARCHIVE_CONFIG, then the
// environment; later sources win.
type Config struct {
	ArchiveDir     string `toml:"archive_dir" validate:"required"`
	DatabaseDir    string `toml:"database_dir" validate:"required"`
	Port           string `toml:"port" validate:"required,numeric"`
	MetricsPort    string `toml:"metrics_port" validate:"required,numeric,nefield=Port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`

	// IngestWorkers of 0 sizes the pool from GOMAXPROCS.
	IngestWorkers  int      `toml:"ingest_workers" validate:"gte=0,lte=256"`
	CacheBudget    ByteSize `toml:"cache_budget" validate:"gt=0"`
	PreloadWorkers int      `toml:"preload_workers" validate:"gte=1,lte=64"`

	ToolTimeout  time.Duration `toml:"tool_timeout"`
	ExiftoolPath string        `toml:"exiftool_path" validate:"required"`
	FFprobePath  string        `toml:"ffprobe_path" validate:"required"`
	FFmpegPath   string        `toml:"ffmpeg_path" validate:"required"`

	ThumbSmall   int           `toml:"thumb_small" validate:"gt=0,ltfield=ThumbLarge"`
	ThumbLarge   int           `toml:"thumb_large" validate:"gt=0,ltfield=ThumbPreview"`
	ThumbPreview int           `toml:"thumb_preview" validate:"gt=0,lte=8192"`
	PosterOffset time.Duration `toml:"poster_offset"`

	LogHealthChecks bool `toml:"log_health_checks"`

	// Source is the config file that was applied, if any.
	Source string `toml:"-"`

	// Derived paths
	DatabasePath string `toml:"-"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	d := derivative.DefaultConfig()
	x := extractor.DefaultConfig()
	return Config{
		ArchiveDir:      "/archive",
		DatabaseDir:     "/database",
		Port:            "8080",
		MetricsPort:     "9090",
		MetricsEnabled:  true,
		CacheBudget:     256 * humanize.MiByte,
		PreloadWorkers:  2,
		ToolTimeout:     x.Timeout,
		ExiftoolPath:    x.ExiftoolPath,
		FFprobePath:     x.FFprobePath,
		FFmpegPath:      d.FFmpegPath,
		ThumbSmall:      d.SmallEdge,
		ThumbLarge:      d.LargeEdge,
		ThumbPreview:    d.PreviewEdge,
		PosterOffset:    d.PosterOffset,
		LogHealthChecks: true,
	}
}

// Derivative converts the tier and tool settings for the generator.
func (c *Config) Derivative() derivative.Config {
	d := derivative.DefaultConfig()
	d.SmallEdge = c.ThumbSmall
	d.LargeEdge = c.ThumbLarge
	d.PreviewEdge = c.ThumbPreview
	d.PosterOffset = c.PosterOffset
	d.FFmpegPath = c.FFmpegPath
	d.Timeout = c.ToolTimeout
	return d
}

// Extractor converts the tool settings for the metadata extractor.
func (c *Config) Extractor() extractor.Config {
	return extractor.Config{
		ExiftoolPath: c.ExiftoolPath,
		FFprobePath:  c.FFprobePath,
		Timeout:      c.ToolTimeout,
	}
}

// Resolve reads the configuration without logging or touching the
// filesystem beyond the optional config file. LoadConfig and the CLI both
// build on it.
func Resolve() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("ARCHIVE_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
		}
		cfg.Source = path
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "archive.db")
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.ArchiveDir = getEnv("ARCHIVE_DIR", cfg.ArchiveDir)
	cfg.DatabaseDir = getEnv("DATABASE_DIR", cfg.DatabaseDir)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.LogHealthChecks = getEnvBool("LOG_HEALTH_CHECKS", cfg.LogHealthChecks)
	cfg.ExiftoolPath = getEnv("EXIFTOOL_PATH", cfg.ExiftoolPath)
	cfg.FFprobePath = getEnv("FFPROBE_PATH", cfg.FFprobePath)
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", cfg.FFmpegPath)

	var errs []error
	intVar := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	durationVar := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	if v := os.Getenv("INGEST_WORKERS"); v != "" && !strings.EqualFold(v, "auto") {
		intVar("INGEST_WORKERS", &cfg.IngestWorkers)
	}
	intVar("PRELOAD_WORKERS", &cfg.PreloadWorkers)
	intVar("THUMB_SMALL", &cfg.ThumbSmall)
	intVar("THUMB_LARGE", &cfg.ThumbLarge)
	intVar("THUMB_PREVIEW", &cfg.ThumbPreview)
	durationVar("TOOL_TIMEOUT", &cfg.ToolTimeout)
	durationVar("POSTER_OFFSET", &cfg.PosterOffset)

	if v := os.Getenv("CACHE_BUDGET"); v != "" {
		if err := cfg.CacheBudget.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("CACHE_BUDGET: %q is not a byte size", v))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, formatValidationError(err))
	}
	if cfg.ToolTimeout <= 0 {
		return fmt.Errorf("%w: tool_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.PosterOffset < 0 {
		return fmt.Errorf("%w: poster_offset must not be negative", ErrInvalidConfig)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: failed on '%s' (value: %v)", e.Field(), e.Tag(), e.Value())
	}
	return err
}

// LoadConfig resolves the configuration, logs it and prepares the archive
// and database directories. A destination that cannot be created or
// written is fatal.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg, err := Resolve()
	if err != nil {
		return nil, err
	}

	logConfig(cfg)
	section("DIRECTORIES")
	if err := PrepareDirs(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PrepareDirs makes both directories absolute, creates them and checks
// they accept writes.
func PrepareDirs(cfg *Config) error {
	for _, dir := range []struct {
		name string
		path *string
	}{
		{"archive", &cfg.ArchiveDir},
		{"database", &cfg.DatabaseDir},
	} {
		abs, err := filepath.Abs(*dir.path)
		if err != nil {
			return fmt.Errorf("%w: resolving %s directory: %v", ErrInvalidConfig, dir.name, err)
		}
		*dir.path = abs
		if err := ensureWritableDir(abs); err != nil {
			return fmt.Errorf("%w: %s directory: %v", ErrInvalidConfig, dir.name, err)
		}
		ok("%s directory %s is writable", dir.name, abs)
	}
	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "archive.db")
	return nil
}

// ensureWritableDir creates dir if needed and proves a file can be
// created in it.
func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.Debug("  creating %s", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		logging.Warn("removing write probe %s: %v", probe.Name(), err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
