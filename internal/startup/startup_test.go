package startup

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// clearEnv unsets every variable Resolve reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ARCHIVE_CONFIG", "ARCHIVE_DIR", "DATABASE_DIR", "PORT", "METRICS_PORT",
		"METRICS_ENABLED", "LOG_HEALTH_CHECKS", "INGEST_WORKERS", "CACHE_BUDGET",
		"PRELOAD_WORKERS", "TOOL_TIMEOUT", "EXIFTOOL_PATH", "FFPROBE_PATH", "FFMPEG_PATH",
		"THUMB_SMALL", "THUMB_LARGE", "THUMB_PREVIEW", "POSTER_OFFSET",
	} {
		t.Setenv(k, "")
	}
}

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.OS == "" || info.Arch == "" {
		t.Error("Expected OS and Arch to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		envValue string
		setEnv   bool
		want     string
	}{
		{name: "Returns default when env var not set", key: "TEST_UNSET_VAR", want: "default"},
		{name: "Returns env value when set", key: "TEST_SET_VAR", envValue: "custom", setEnv: true, want: "custom"},
		{name: "Empty value falls back to default", key: "TEST_EMPTY_VAR", envValue: "", setEnv: true, want: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv(tt.key, tt.envValue)
			} else {
				os.Unsetenv(tt.key)
			}
			if got := getEnv(tt.key, "default"); got != tt.want {
				t.Errorf("getEnv(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"unset uses default", "", true, true},
		{"true", "true", false, true},
		{"false", "false", true, false},
		{"one", "1", false, true},
		{"zero", "0", true, false},
		{"upper T", "T", false, true},
		{"invalid uses default", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_VAR", tt.envValue)
			if got := getEnvBool("TEST_BOOL_VAR", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.envValue, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.ArchiveDir != "/archive" || cfg.DatabaseDir != "/database" {
		t.Errorf("dirs = %q, %q", cfg.ArchiveDir, cfg.DatabaseDir)
	}
	if cfg.CacheBudget != 256<<20 {
		t.Errorf("CacheBudget = %d, want %d", cfg.CacheBudget, 256<<20)
	}
	if cfg.ThumbSmall != 400 || cfg.ThumbLarge != 800 || cfg.ThumbPreview != 1920 {
		t.Errorf("tiers = %d/%d/%d", cfg.ThumbSmall, cfg.ThumbLarge, cfg.ThumbPreview)
	}
	if cfg.DatabasePath != filepath.Join("/database", "archive.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.IngestWorkers != 0 {
		t.Errorf("IngestWorkers = %d, want 0 (auto)", cfg.IngestWorkers)
	}
}

func TestResolveEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARCHIVE_DIR", "/srv/a")
	t.Setenv("CACHE_BUDGET", "1GB")
	t.Setenv("INGEST_WORKERS", "12")
	t.Setenv("TOOL_TIMEOUT", "5s")
	t.Setenv("THUMB_SMALL", "200")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.ArchiveDir != "/srv/a" {
		t.Errorf("ArchiveDir = %q", cfg.ArchiveDir)
	}
	if cfg.CacheBudget != 1_000_000_000 {
		t.Errorf("CacheBudget = %d, want 1e9", cfg.CacheBudget)
	}
	if cfg.IngestWorkers != 12 {
		t.Errorf("IngestWorkers = %d, want 12", cfg.IngestWorkers)
	}
	if cfg.ToolTimeout != 5*time.Second {
		t.Errorf("ToolTimeout = %v", cfg.ToolTimeout)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled should be false")
	}

	d := cfg.Derivative()
	if d.SmallEdge != 200 || d.Timeout != 5*time.Second {
		t.Errorf("Derivative() = %+v", d)
	}
	if x := cfg.Extractor(); x.Timeout != 5*time.Second || x.ExiftoolPath != "exiftool" {
		t.Errorf("Extractor() = %+v", x)
	}
}

func TestResolveFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "archive.toml")
	content := `
archive_dir = "/from/file"
database_dir = "/db/file"
cache_budget = "64MiB"
tool_timeout = "45s"
thumb_preview = 2048
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARCHIVE_CONFIG", path)
	t.Setenv("DATABASE_DIR", "/db/env")

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if cfg.ArchiveDir != "/from/file" {
		t.Errorf("ArchiveDir = %q, want value from file", cfg.ArchiveDir)
	}
	if cfg.DatabaseDir != "/db/env" {
		t.Errorf("DatabaseDir = %q, environment should win over file", cfg.DatabaseDir)
	}
	if cfg.CacheBudget != 64<<20 {
		t.Errorf("CacheBudget = %d", cfg.CacheBudget)
	}
	if cfg.ToolTimeout != 45*time.Second {
		t.Errorf("ToolTimeout = %v", cfg.ToolTimeout)
	}
	if cfg.ThumbPreview != 2048 {
		t.Errorf("ThumbPreview = %d", cfg.ThumbPreview)
	}
}

func TestResolveInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad budget", map[string]string{"CACHE_BUDGET": "lots"}},
		{"zero budget", map[string]string{"CACHE_BUDGET": "0"}},
		{"bad duration", map[string]string{"TOOL_TIMEOUT": "soon"}},
		{"negative timeout", map[string]string{"TOOL_TIMEOUT": "-1s"}},
		{"tiers out of order", map[string]string{"THUMB_SMALL": "900"}},
		{"same ports", map[string]string{"PORT": "9090"}},
		{"non-numeric port", map[string]string{"PORT": "http"}},
		{"bad workers", map[string]string{"INGEST_WORKERS": "many"}},
		{"missing config file", map[string]string{"ARCHIVE_CONFIG": "/nonexistent/archive.toml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Resolve()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Resolve() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPrepareDirs(t *testing.T) {
	root := t.TempDir()
	cfg := Defaults()
	cfg.ArchiveDir = filepath.Join(root, "archive", "nested")
	cfg.DatabaseDir = filepath.Join(root, "db")

	if err := PrepareDirs(&cfg); err != nil {
		t.Fatalf("PrepareDirs() error = %v", err)
	}
	for _, dir := range []string{cfg.ArchiveDir, cfg.DatabaseDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
	if cfg.DatabasePath != filepath.Join(cfg.DatabaseDir, "archive.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}

	file := filepath.Join(root, "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.ArchiveDir = file
	if err := PrepareDirs(&cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("PrepareDirs(file) error = %v, want ErrInvalidConfig", err)
	}
}

func TestCheckToolsMissing(t *testing.T) {
	cfg := Defaults()
	cfg.ExiftoolPath = "/nonexistent/exiftool"
	cfg.FFprobePath = "/nonexistent/ffprobe"
	cfg.FFmpegPath = "/nonexistent/ffmpeg"

	for _, st := range CheckTools(t.Context(), &cfg) {
		if st.Available() {
			t.Errorf("%s reported available", st.Name)
		}
	}
}

func TestGetRoutes(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/api/imports", func(_ http.ResponseWriter, _ *http.Request) {}).Methods("POST").Name("submit")
	r.HandleFunc("/health", func(_ http.ResponseWriter, _ *http.Request) {})

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	if routes[0] != (RouteInfo{Method: "POST", Path: "/api/imports", Name: "submit"}) {
		t.Errorf("routes[0] = %+v", routes[0])
	}
	if routes[1].Method != "*" {
		t.Errorf("routes[1].Method = %q, want *", routes[1].Method)
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := map[string]string{
		"/api/imports/{id}": "api/imports",
		"/api/assets":       "api/assets",
		"/health":           "health",
		"/":                 "",
	}
	for path, want := range tests {
		if got := getRouteGroup(path); got != want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", path, got, want)
		}
	}
}
