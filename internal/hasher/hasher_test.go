package hasher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSumKnownVector(t *testing.T) {
	// BLAKE3 of the empty input.
	const want = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"

	got, n, err := Sum(context.Background(), bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
	if string(got) != want {
		t.Errorf("Sum(empty) = %s, want %s", got, want)
	}
	if SumBytes(nil) != got {
		t.Errorf("SumBytes(nil) = %s, want %s", SumBytes(nil), got)
	}
}

func TestSumMatchesSumBytesAcrossChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), chunkSize/8) // two chunks

	got, n, err := Sum(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("n = %d, want %d", n, len(data))
	}
	if want := SumBytes(data); got != want {
		t.Errorf("Sum() = %s, want %s", got, want)
	}
	if !got.Valid() {
		t.Errorf("digest %q is not valid", got)
	}
}

func TestSumFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "copy of a.jpg")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("same bytes"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	da, _, err := SumFile(context.Background(), a)
	if err != nil {
		t.Fatalf("SumFile(a) error = %v", err)
	}
	db, _, err := SumFile(context.Background(), b)
	if err != nil {
		t.Fatalf("SumFile(b) error = %v", err)
	}
	if da != db {
		t.Errorf("identical content produced %s and %s", da, db)
	}

	if _, _, err := SumFile(context.Background(), filepath.Join(dir, "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("SumFile(missing) error = %v, want ErrNotExist", err)
	}
}

func TestSumCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Sum(ctx, strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sum() error = %v, want Canceled", err)
	}
}

func TestParse(t *testing.T) {
	valid := strings.Repeat("ab", Size)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", valid, false},
		{"uppercase", strings.ToUpper(valid), true},
		{"short", valid[:10], true},
		{"non hex", strings.Repeat("zz", Size), true},
		{"path traversal", "../" + valid[3:], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDigest) {
				t.Errorf("error %v does not wrap ErrInvalidDigest", err)
			}
		})
	}

	if got := Digest(valid).Short(); got != valid[:12] {
		t.Errorf("Short() = %q", got)
	}
}

func TestDigestBucketAndShort(t *testing.T) {
	d := Digest("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")
	if got := d.Bucket(); got != "ab/cd" {
		t.Errorf("Bucket() = %q, want ab/cd", got)
	}
	if got := d.Short(); got != "abcdef012345" {
		t.Errorf("Short() = %q", got)
	}
}
