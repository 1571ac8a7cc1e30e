package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"media-archive/internal/hasher"
	"media-archive/internal/ingest"
	"media-archive/internal/startup"
)

func testConfig(t *testing.T) *startup.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := startup.Defaults()
	cfg.ArchiveDir = filepath.Join(dir, "archive")
	cfg.DatabaseDir = filepath.Join(dir, "db")
	cfg.IngestWorkers = 2
	cfg.ExiftoolPath = "exiftool-not-installed"
	cfg.FFprobePath = "ffprobe-not-installed"
	cfg.FFmpegPath = "ffmpeg-not-installed"
	cfg.ThumbSmall, cfg.ThumbLarge, cfg.ThumbPreview = 40, 80, 160
	return &cfg
}

func writeImage(t *testing.T, dir, name string, shade uint8) string {
	t.Helper()
	path := filepath.Join(dir, name)
	img := imaging.New(300, 200, color.NRGBA{R: shade, G: 90, B: 30, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the CLI and returns stdout.
func run(t *testing.T, cfg *startup.Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(cfg)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestImportCommand(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	writeImage(t, src, "a.jpg", 10)
	writeImage(t, src, "b.jpg", 20)

	out, err := run(t, cfg, "import", src)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	if !strings.Contains(out, "2 stored") || !strings.Contains(out, "0 failed") {
		t.Errorf("import output = %q, want 2 stored and 0 failed", out)
	}

	// Importing the same directory again only finds duplicates.
	out, err = run(t, cfg, "--json", "import", src)
	if err != nil {
		t.Fatalf("second import error = %v", err)
	}
	var snap ingest.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode snapshot: %v\n%s", err, out)
	}
	if snap.Stored != 0 || snap.Duplicates != 2 || snap.Status != ingest.SessionCompleted {
		t.Errorf("second import = %+v, want 2 duplicates", snap.Result)
	}

	out, err = run(t, cfg, "stats")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	if !strings.Contains(out, "assets: 2 (2 images") || !strings.Contains(out, "sessions: 2") {
		t.Errorf("stats output = %q", out)
	}
}

func TestImportCommandFailures(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	good := writeImage(t, src, "a.jpg", 10)

	out, err := run(t, cfg, "import", good, filepath.Join(src, "missing.jpg"))
	if !errors.Is(err, errFilesFailed) {
		t.Fatalf("import error = %v, want errFilesFailed", err)
	}
	if !strings.Contains(out, "1 stored") || !strings.Contains(out, "1 failed") {
		t.Errorf("import output = %q, want 1 stored and 1 failed", out)
	}

	if _, err := run(t, cfg, "import"); err == nil {
		t.Error("import without paths succeeded, want error")
	}
}

func TestImportDeleteSource(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	path := writeImage(t, src, "a.jpg", 10)

	if _, err := run(t, cfg, "import", "--delete-source", path); err != nil {
		t.Fatalf("import error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("source still present after --delete-source: %v", err)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	writeImage(t, src, "a.jpg", 10)
	if _, err := run(t, cfg, "import", src); err != nil {
		t.Fatalf("import error = %v", err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"reconcile", []string{"reconcile"}, "1 assets: 1 unchanged"},
		{"rebuild", []string{"rebuild"}, "1 with sidecar"},
		{"sweep", []string{"sweep"}, "1 originals: 0 orphans"},
		{"backfill", []string{"backfill"}, "1 scanned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, cfg, tt.args...)
			if err != nil {
				t.Fatalf("%v error = %v", tt.args, err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("%v output = %q, want substring %q", tt.args, out, tt.want)
			}
		})
	}
}

func TestReconcileRejectsBadDigest(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "reconcile", "not-a-digest")
	if !errors.Is(err, hasher.ErrInvalidDigest) {
		t.Errorf("reconcile error = %v, want ErrInvalidDigest", err)
	}
}

func TestReconcileUnknownDigestFails(t *testing.T) {
	cfg := testConfig(t)
	d := hasher.SumBytes([]byte("nothing"))
	out, err := run(t, cfg, "reconcile", d.String())
	if !errors.Is(err, errFilesFailed) {
		t.Fatalf("reconcile error = %v, want errFilesFailed", err)
	}
	if !strings.Contains(out, d.String()) {
		t.Errorf("reconcile output = %q, want failure for %s", out, d)
	}
}

func TestFormatOutcome(t *testing.T) {
	d := hasher.SumBytes([]byte("x"))
	tests := []struct {
		name  string
		o     ingest.Outcome
		n     int
		total int
		want  string
	}{
		{"stored", ingest.Outcome{Path: "/in/a.jpg", Status: ingest.StatusStored, Digest: d}, 1, 3,
			"[1/3] stored    /in/a.jpg (" + d.Short() + ")"},
		{"failed", ingest.Outcome{Path: "/in/b.jpg", Status: ingest.StatusFailed, Reason: "io failure"}, 2, 3,
			"[2/3] failed    /in/b.jpg: io failure"},
		{"unknown total", ingest.Outcome{Path: "/in/c.jpg", Status: ingest.StatusDuplicate}, 4, 0,
			"[4] duplicate /in/c.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatOutcome(tt.o, tt.n, tt.total); got != tt.want {
				t.Errorf("formatOutcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProgressNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(&buf)
	if p.live {
		t.Fatal("bytes.Buffer treated as a terminal")
	}
	p.event(ingest.Event{Path: "/in/a.jpg", Stage: ingest.StageHashed}, 2)
	p.event(ingest.Event{Path: "/in/a.jpg", Stage: ingest.StageCommitted,
		Outcome: &ingest.Outcome{Path: "/in/a.jpg", Status: ingest.StatusStored}}, 2)
	p.event(ingest.Event{Path: "/in/b.jpg", Stage: ingest.StageFailed,
		Outcome: &ingest.Outcome{Path: "/in/b.jpg", Status: ingest.StatusFailed, Reason: "boom"}}, 2)

	if got, want := buf.String(), "[2/2] failed    /in/b.jpg: boom\n"; got != want {
		t.Errorf("progress output = %q, want %q", got, want)
	}
}

func TestFormatSummary(t *testing.T) {
	got := formatSummary(ingest.Result{Stored: 3, Duplicates: 1, Failed: 2}, 3<<20)
	if want := "3 stored (3.0 MiB), 1 duplicates, 2 failed"; got != want {
		t.Errorf("formatSummary() = %q, want %q", got, want)
	}
}
