package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"media-archive/internal/mediatypes"
)

var exiftoolTags = []string{
	"-ImageWidth", "-ImageHeight", "-ExifImageWidth", "-ExifImageHeight",
	"-Orientation", "-DateTimeOriginal", "-CreateDate", "-MediaCreateDate",
	"-OffsetTimeOriginal", "-GPSLatitude", "-GPSLongitude", "-GPSAltitude",
	"-Make", "-Model", "-MIMEType", "-Duration", "-CompressorID", "-VideoCodec",
}

// previewTags are the embedded JPEG tags cameras commonly use, largest
// first.
var previewTags = []string{"PreviewImage", "JpgFromRaw", "ThumbnailImage"}

// probeExiftool reads metadata and, with preview set, the embedded
// preview in the same run. -b makes -json carry binary tags as
// "base64:" strings.
func (e *Extractor) probeExiftool(ctx context.Context, path string, preview bool) (Result, error) {
	args := append([]string{"-json", "-n", "-q"}, exiftoolTags...)
	if preview {
		args = append(args, "-b")
		for _, tag := range previewTags {
			args = append(args, "-"+tag)
		}
	}
	args = append(args, path)

	out, err := e.exec(ctx, "exiftool", e.cfg.ExiftoolPath, args...)
	if err != nil {
		return Result{}, err
	}
	doc, err := decodeExiftool(out)
	if err != nil {
		return Result{}, err
	}
	res := Result{Preview: takePreview(doc), Raw: doc}
	res.Meta = distillExiftool(doc)
	return res, nil
}

// takePreview removes the binary preview tags from doc and returns the
// first one that decodes to a JPEG.
func takePreview(doc map[string]any) []byte {
	var found []byte
	for _, tag := range previewTags {
		v, ok := doc[tag].(string)
		delete(doc, tag)
		if !ok || found != nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, "base64:"))
		if err == nil && mediatypes.DetectMagic(data) == "jpeg" {
			found = data
		}
	}
	return found
}

func decodeExiftool(out []byte) (map[string]any, error) {
	var docs []map[string]any
	if err := json.Unmarshal(out, &docs); err != nil {
		return nil, fmt.Errorf("%w: parse exiftool output: %v", ErrUnavailable, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: exiftool returned no records", ErrUnavailable)
	}
	return docs[0], nil
}

// distillExiftool normalizes an `exiftool -json -n` record. With -n
// numeric values are unformatted and GPS coordinates are signed decimals.
func distillExiftool(doc map[string]any) mediatypes.TechnicalMetadata {
	meta := mediatypes.TechnicalMetadata{
		Width:       firstInt(doc, "ImageWidth", "ExifImageWidth"),
		Height:      firstInt(doc, "ImageHeight", "ExifImageHeight"),
		Orientation: firstInt(doc, "Orientation"),
		Make:        strings.TrimSpace(str(doc, "Make")),
		Model:       strings.TrimSpace(str(doc, "Model")),
		MimeType:    str(doc, "MIMEType"),
		Codec:       firstString(doc, "CompressorID", "VideoCodec"),
		Source:      "exiftool",
	}

	// Orientations 5-8 are rotated by 90 degrees; report display dimensions.
	if meta.Orientation >= 5 && meta.Orientation <= 8 {
		meta.Width, meta.Height = meta.Height, meta.Width
	}

	if secs, ok := num(doc, "Duration"); ok && secs > 0 {
		meta.Duration = time.Duration(math.Round(secs * float64(time.Second)))
	}

	for _, key := range []string{"DateTimeOriginal", "CreateDate", "MediaCreateDate"} {
		if t, ok := parseExifTime(str(doc, key), str(doc, "OffsetTimeOriginal")); ok {
			meta.CaptureTime = &t
			break
		}
	}

	lat, latOK := num(doc, "GPSLatitude")
	lon, lonOK := num(doc, "GPSLongitude")
	if latOK && lonOK && validCoordinate(lat, lon) {
		gps := &mediatypes.GPS{Latitude: lat, Longitude: lon}
		if alt, ok := num(doc, "GPSAltitude"); ok {
			gps.Altitude = &alt
		}
		meta.GPS = gps
	}

	return meta
}

var exifLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05.000",
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05.000Z07:00",
}

// parseExifTime parses EXIF's colon-separated timestamps. Cameras write
// local time; when OffsetTimeOriginal is present it is applied, otherwise
// the value is kept as UTC wall-clock time. Zeroed dates are rejected.
func parseExifTime(value, offset string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "0000") {
		return time.Time{}, false
	}
	if offset != "" && !strings.ContainsAny(value[min(len(value), 19):], "+-Z") {
		value += offset
	}
	for _, layout := range exifLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func validCoordinate(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}

func str(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func num(doc map[string]any, key string) (float64, bool) {
	switch v := doc[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func firstInt(doc map[string]any, keys ...string) int {
	for _, k := range keys {
		if v, ok := num(doc, k); ok && v > 0 {
			return int(v)
		}
	}
	return 0
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(str(doc, k)); v != "" {
			return v
		}
	}
	return ""
}
