package discovery

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"media-archive/internal/mediatypes"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F'}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func paths(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Path
	}
	return out
}

func TestExpand(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "card")
	writeFile(t, filepath.Join(dir, "b.jpg"), jpegHeader)
	writeFile(t, filepath.Join(dir, "a.jpg"), jpegHeader)
	writeFile(t, filepath.Join(dir, "a.xmp"), []byte("<x/>"))
	writeFile(t, filepath.Join(dir, ".hidden.jpg"), jpegHeader)
	writeFile(t, filepath.Join(dir, ".cache", "c.jpg"), jpegHeader)
	writeFile(t, filepath.Join(dir, "sub", "c.mp4"), []byte("not really"))
	writeFile(t, filepath.Join(dir, "notes.xyz"), []byte("hello"))

	single := filepath.Join(root, "z.png")
	writeFile(t, single, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	missing := filepath.Join(root, "missing.jpg")

	w := New(Config{NumWorkers: 3, SkipHidden: true})
	got, err := w.Expand(context.Background(), []string{single, dir, missing})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	want := []string{
		single,
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "notes.xyz"),
		filepath.Join(dir, "sub", "c.mp4"),
		missing,
	}
	if !reflect.DeepEqual(paths(got), want) {
		t.Fatalf("Expand() paths = %v, want %v", paths(got), want)
	}

	if got[0].Err != nil || got[0].Format.Kind != mediatypes.KindImage || got[0].Format.Extension != ".png" {
		t.Errorf("explicit png = %+v", got[0])
	}
	if got[1].Size != int64(len(jpegHeader)) {
		t.Errorf("a.jpg size = %d, want %d", got[1].Size, len(jpegHeader))
	}
	if !errors.Is(got[3].Err, mediatypes.ErrUnsupported) {
		t.Errorf("notes.xyz error = %v, want ErrUnsupported", got[3].Err)
	}
	if got[4].Format.Kind != mediatypes.KindVideo {
		t.Errorf("c.mp4 kind = %s, want video", got[4].Format.Kind)
	}
	if !errors.Is(got[5].Err, fs.ErrNotExist) {
		t.Errorf("missing error = %v, want ErrNotExist", got[5].Err)
	}
}

func TestExpandIncludesHiddenWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".hidden.jpg"), jpegHeader)

	got, err := New(Config{NumWorkers: 1}).Expand(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expand() = %v, want the hidden file", paths(got))
	}
}

func TestExpandCancelled(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		writeFile(t, filepath.Join(dir, name), jpegHeader)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(DefaultConfig()).Expand(ctx, []string{dir}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expand() error = %v, want context.Canceled", err)
	}
}
