package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"media-archive/internal/mediatypes"
)

var jpegFormat, _ = mediatypes.LookupExtension(".jpg")
var pngFormat, _ = mediatypes.LookupExtension(".png")
var rawFormat, _ = mediatypes.LookupExtension(".nef")
var videoFormat, _ = mediatypes.LookupExtension(".mp4")

func fakeExtractor(run runFunc) *Extractor {
	e := New(Config{Timeout: 200 * time.Millisecond})
	e.run = run
	return e
}

func parseExiftool(out []byte) (mediatypes.TechnicalMetadata, error) {
	doc, err := decodeExiftool(out)
	if err != nil {
		return mediatypes.TechnicalMetadata{}, err
	}
	return distillExiftool(doc), nil
}

const exiftoolSample = `[{
  "SourceFile": "/in/IMG_0001.JPG",
  "ImageWidth": 4000,
  "ImageHeight": 3000,
  "Orientation": 1,
  "DateTimeOriginal": "2023:06:01 14:30:05",
  "OffsetTimeOriginal": "+02:00",
  "GPSLatitude": 48.8584,
  "GPSLongitude": -2.2945,
  "GPSAltitude": 35.5,
  "Make": "Canon ",
  "Model": "EOS R5",
  "MIMEType": "image/jpeg"
}]`

func TestParseExiftool(t *testing.T) {
	meta, err := parseExiftool([]byte(exiftoolSample))
	if err != nil {
		t.Fatalf("parseExiftool() error = %v", err)
	}

	if meta.Width != 4000 || meta.Height != 3000 {
		t.Errorf("dimensions = %dx%d, want 4000x3000", meta.Width, meta.Height)
	}
	if meta.Make != "Canon" || meta.Model != "EOS R5" {
		t.Errorf("make/model = %q/%q", meta.Make, meta.Model)
	}
	if meta.CaptureTime == nil {
		t.Fatal("CaptureTime is nil")
	}
	want := time.Date(2023, 6, 1, 12, 30, 5, 0, time.UTC)
	if !meta.CaptureTime.Equal(want) {
		t.Errorf("CaptureTime = %v, want %v", meta.CaptureTime, want)
	}
	if meta.GPS == nil || meta.GPS.Latitude != 48.8584 || meta.GPS.Longitude != -2.2945 {
		t.Errorf("GPS = %+v", meta.GPS)
	}
	if meta.GPS.Altitude == nil || *meta.GPS.Altitude != 35.5 {
		t.Errorf("Altitude = %v", meta.GPS.Altitude)
	}
	if meta.Source != "exiftool" {
		t.Errorf("Source = %q", meta.Source)
	}
}

func TestParseExiftoolEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, m mediatypes.TechnicalMetadata)
	}{
		{
			name:  "rotated orientation swaps dimensions",
			input: `[{"ImageWidth": 6000, "ImageHeight": 4000, "Orientation": 6}]`,
			check: func(t *testing.T, m mediatypes.TechnicalMetadata) {
				if m.Width != 4000 || m.Height != 6000 {
					t.Errorf("dimensions = %dx%d, want 4000x6000", m.Width, m.Height)
				}
			},
		},
		{
			name:  "zeroed date ignored, create date used",
			input: `[{"DateTimeOriginal": "0000:00:00 00:00:00", "CreateDate": "2020:01:02 03:04:05"}]`,
			check: func(t *testing.T, m mediatypes.TechnicalMetadata) {
				if m.CaptureTime == nil || m.CaptureTime.Year() != 2020 {
					t.Errorf("CaptureTime = %v, want 2020", m.CaptureTime)
				}
			},
		},
		{
			name:  "null island rejected",
			input: `[{"GPSLatitude": 0, "GPSLongitude": 0}]`,
			check: func(t *testing.T, m mediatypes.TechnicalMetadata) {
				if m.GPS != nil {
					t.Errorf("GPS = %+v, want nil", m.GPS)
				}
			},
		},
		{
			name:  "exif dimensions fallback and string numbers",
			input: `[{"ExifImageWidth": "1200", "ExifImageHeight": 800, "Duration": 12.5}]`,
			check: func(t *testing.T, m mediatypes.TechnicalMetadata) {
				if m.Width != 1200 || m.Height != 800 {
					t.Errorf("dimensions = %dx%d", m.Width, m.Height)
				}
				if m.Duration != 12500*time.Millisecond {
					t.Errorf("Duration = %v", m.Duration)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := parseExiftool([]byte(tt.input))
			if err != nil {
				t.Fatalf("parseExiftool() error = %v", err)
			}
			tt.check(t, m)
		})
	}

	for _, bad := range []string{"not json", "[]"} {
		if _, err := parseExiftool([]byte(bad)); !errors.Is(err, ErrUnavailable) {
			t.Errorf("parseExiftool(%q) error = %v, want ErrUnavailable", bad, err)
		}
	}
}

const ffprobeSample = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "hevc", "width": 3840, "height": 2160,
     "side_data_list": [{"rotation": -90}]}
  ],
  "format": {
    "duration": "12.345000",
    "tags": {
      "creation_time": "2024-02-03T10:11:12.000000Z",
      "com.apple.quicktime.location.ISO6709": "+37.7749-122.4194+010.000/",
      "com.apple.quicktime.make": "Apple",
      "com.apple.quicktime.model": "iPhone 15"
    }
  }
}`

func TestParseFFprobe(t *testing.T) {
	meta, err := parseFFprobe([]byte(ffprobeSample))
	if err != nil {
		t.Fatalf("parseFFprobe() error = %v", err)
	}

	if meta.Codec != "hevc" {
		t.Errorf("Codec = %q, want hevc", meta.Codec)
	}
	if meta.Width != 2160 || meta.Height != 3840 {
		t.Errorf("dimensions = %dx%d, want rotated 2160x3840", meta.Width, meta.Height)
	}
	if meta.Duration != 12345*time.Millisecond {
		t.Errorf("Duration = %v", meta.Duration)
	}
	if meta.CaptureTime == nil || meta.CaptureTime.Year() != 2024 {
		t.Errorf("CaptureTime = %v", meta.CaptureTime)
	}
	if meta.GPS == nil || meta.GPS.Latitude != 37.7749 || meta.GPS.Longitude != -122.4194 {
		t.Errorf("GPS = %+v", meta.GPS)
	}
	if meta.Make != "Apple" || meta.Model != "iPhone 15" {
		t.Errorf("make/model = %q/%q", meta.Make, meta.Model)
	}
}

func TestParseFFprobeNoVideoStream(t *testing.T) {
	_, err := parseFFprobe([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestParseISO6709(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
	}{
		{"+37.7749-122.4194/", true},
		{"-33.8688+151.2093+005.000/", true},
		{"+00.0000+000.0000/", false},
		{"garbage", false},
		{"", false},
	}
	for _, tt := range tests {
		if _, ok := parseISO6709(tt.in); ok != tt.wantOK {
			t.Errorf("parseISO6709(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
		}
	}
}

func TestProbeDispatch(t *testing.T) {
	var calls []string
	e := fakeExtractor(func(_ context.Context, name string, _ ...string) ([]byte, error) {
		calls = append(calls, name)
		if name == "ffprobe" {
			return []byte(ffprobeSample), nil
		}
		return []byte(exiftoolSample), nil
	})

	if _, err := e.Probe(context.Background(), "/x.mp4", videoFormat); err != nil {
		t.Fatalf("Probe(video) error = %v", err)
	}
	if _, err := e.Probe(context.Background(), "/x.nef", rawFormat); err != nil {
		t.Fatalf("Probe(raw) error = %v", err)
	}
	if strings.Join(calls, ",") != "ffprobe,exiftool" {
		t.Errorf("tools called = %v", calls)
	}
}

func TestProbeRawCarriesPreview(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xDB, 1, 2, 3}
	var runs [][]string
	e := fakeExtractor(func(_ context.Context, name string, args ...string) ([]byte, error) {
		runs = append(runs, append([]string{name}, args...))
		return []byte(`[{"ImageWidth": 6000, "ImageHeight": 4000,
			"ThumbnailImage": "base64:/9j/2wAB",
			"PreviewImage": "base64:` + base64.StdEncoding.EncodeToString(jpeg) + `"}]`), nil
	})

	res, err := e.Probe(context.Background(), "/x.nef", rawFormat)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("tool runs = %d, want 1", len(runs))
	}
	args := strings.Join(runs[0], " ")
	for _, want := range []string{"-b", "-PreviewImage", "-JpgFromRaw", "-ThumbnailImage"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %s", args, want)
		}
	}
	if !bytes.Equal(res.Preview, jpeg) {
		t.Errorf("Preview = %v, want %v", res.Preview, jpeg)
	}
	if res.Meta.Width != 6000 {
		t.Errorf("Width = %d, want 6000", res.Meta.Width)
	}
	for _, tag := range previewTags {
		if _, ok := res.Raw[tag]; ok {
			t.Errorf("Raw still holds binary %s", tag)
		}
	}
	if res.Raw["ImageWidth"] != 6000.0 {
		t.Errorf("Raw[ImageWidth] = %v", res.Raw["ImageWidth"])
	}
}

func TestProbeDecodableSkipsPreview(t *testing.T) {
	var args []string
	e := fakeExtractor(func(_ context.Context, _ string, a ...string) ([]byte, error) {
		args = a
		return []byte(exiftoolSample), nil
	})

	res, err := e.Probe(context.Background(), "/x.jpg", jpegFormat)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if res.Preview != nil {
		t.Errorf("Preview = %d bytes, want none for a decodable image", len(res.Preview))
	}
	for _, a := range args {
		if a == "-b" || a == "-PreviewImage" {
			t.Errorf("decodable probe asked for %s", a)
		}
	}
}

func TestProbeVideoFallsBackToExiftool(t *testing.T) {
	e := fakeExtractor(func(_ context.Context, name string, _ ...string) ([]byte, error) {
		if name == "ffprobe" {
			return nil, errors.New("exit status 1")
		}
		return []byte(`[{"ImageWidth": 1920, "ImageHeight": 1080, "Duration": 3}]`), nil
	})

	res, err := e.Probe(context.Background(), "/x.mp4", videoFormat)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if res.Meta.Width != 1920 || res.Meta.Source != "exiftool" {
		t.Errorf("meta = %+v", res.Meta)
	}
}

func TestProbeToolMissingUsesNativeDecoder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.png")
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	e := New(Config{ExiftoolPath: "definitely-not-exiftool-on-path", Timeout: time.Second})

	res, err := e.Probe(context.Background(), path, pngFormat)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Probe() error = %v, want ErrUnavailable (degraded)", err)
	}
	if m := res.Meta; m.Width != 30 || m.Height != 20 || m.Source != "native" {
		t.Errorf("meta = %+v, want native 30x20", m)
	}
}

func TestProbeNonDecodableWithoutToolIsUnavailable(t *testing.T) {
	e := New(Config{ExiftoolPath: "definitely-not-exiftool-on-path", Timeout: time.Second})

	res, err := e.Probe(context.Background(), "/nowhere/x.nef", rawFormat)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Probe() error = %v, want ErrUnavailable", err)
	}
	if res.Meta.MimeType != rawFormat.MimeType {
		t.Errorf("MimeType = %q, want format default", res.Meta.MimeType)
	}
	if res.Preview != nil {
		t.Errorf("Preview = %d bytes, want none", len(res.Preview))
	}
}

func TestExecTimeout(t *testing.T) {
	e := fakeExtractor(func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := e.Probe(context.Background(), "/x.jpg", jpegFormat)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Probe() error = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q does not mention timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestEmbeddedPreview(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xDB, 1, 2, 3}

	t.Run("falls through tags until a JPEG appears", func(t *testing.T) {
		var tags []string
		e := fakeExtractor(func(_ context.Context, _ string, args ...string) ([]byte, error) {
			tags = append(tags, args[1])
			if args[1] == "-JpgFromRaw" {
				return jpeg, nil
			}
			return nil, nil
		})

		got, err := e.EmbeddedPreview(context.Background(), "/x.nef")
		if err != nil {
			t.Fatalf("EmbeddedPreview() error = %v", err)
		}
		if len(got) != len(jpeg) {
			t.Errorf("preview length = %d", len(got))
		}
		if strings.Join(tags, ",") != "-PreviewImage,-JpgFromRaw" {
			t.Errorf("tags tried = %v", tags)
		}
	})

	t.Run("no preview", func(t *testing.T) {
		e := fakeExtractor(func(context.Context, string, ...string) ([]byte, error) {
			return nil, nil
		})
		if _, err := e.EmbeddedPreview(context.Background(), "/x.nef"); !errors.Is(err, ErrNoPreview) {
			t.Errorf("error = %v, want ErrNoPreview", err)
		}
	})

	t.Run("tool missing", func(t *testing.T) {
		e := New(Config{ExiftoolPath: "definitely-not-exiftool-on-path"})
		_, err := e.EmbeddedPreview(context.Background(), "/x.nef")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})
}
