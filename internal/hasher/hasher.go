// Package hasher computes content digests: lowercase hex BLAKE3-256 over
// the full byte stream. It holds no state; every call is independent.
package hasher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"media-archive/internal/filesystem"
)

// Size is the digest length in bytes.
const Size = 32

const chunkSize = 1 << 20

// ErrInvalidDigest is returned by Parse for malformed input.
var ErrInvalidDigest = errors.New("invalid content digest")

// Digest is the hex encoding of an asset's BLAKE3-256 hash. It is the
// asset's identity and the stem of its canonical file name.
type Digest string

// Valid reports whether d is 64 lowercase hex characters.
func (d Digest) Valid() bool {
	if len(d) != Size*2 {
		return false
	}
	for i := 0; i < len(d); i++ {
		c := d[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (d Digest) String() string { return string(d) }

// Bucket returns the two-level directory prefix ("ab/cd") used to bound
// fan-out in the content store. d must be valid.
func (d Digest) Bucket() string {
	return string(d[0:2]) + "/" + string(d[2:4])
}

// Short returns the first 12 characters, for log lines.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

// Parse validates an externally supplied digest.
func Parse(s string) (Digest, error) {
	d := Digest(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	return d, nil
}

// Sum streams r through BLAKE3 and returns the digest and the number of
// bytes read. The context is checked between chunks so hashing a large
// file stops promptly on cancellation.
func Sum(ctx context.Context, r io.Reader) (Digest, int64, error) {
	h := blake3.New()
	buf := make([]byte, chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", total, fmt.Errorf("read: %w", err)
		}
	}

	return Digest(hex.EncodeToString(h.Sum(nil))), total, nil
}

// SumBytes hashes an in-memory buffer.
func SumBytes(b []byte) Digest {
	sum := blake3.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// SumFile hashes the file at path.
func SumFile(ctx context.Context, path string) (Digest, int64, error) {
	f, err := filesystem.DefaultPolicy().Open(ctx, path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	return Sum(ctx, f)
}
