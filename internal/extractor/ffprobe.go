package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"media-archive/internal/mediatypes"
)

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string            `json:"codec_type"`
		CodecName    string            `json:"codec_name"`
		Width        int               `json:"width"`
		Height       int               `json:"height"`
		Duration     string            `json:"duration"`
		Tags         map[string]string `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

func (e *Extractor) probeFFprobe(ctx context.Context, path string) (Result, error) {
	out, err := e.exec(ctx, "ffprobe", e.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return Result{}, err
	}
	meta, err := parseFFprobe(out)
	if err != nil {
		return Result{}, err
	}
	var raw map[string]any
	_ = json.Unmarshal(out, &raw)
	return Result{Meta: meta, Raw: raw}, nil
}

func parseFFprobe(out []byte) (mediatypes.TechnicalMetadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return mediatypes.TechnicalMetadata{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrUnavailable, err)
	}

	meta := mediatypes.TechnicalMetadata{Source: "ffprobe"}
	found := false

	for _, s := range probe.Streams {
		if s.CodecType != "video" || found {
			continue
		}
		found = true
		meta.Codec = s.CodecName
		meta.Width, meta.Height = s.Width, s.Height

		rotation := 0.0
		if r, err := strconv.ParseFloat(s.Tags["rotate"], 64); err == nil {
			rotation = r
		}
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				rotation = sd.Rotation
			}
		}
		if int(math.Abs(rotation))%180 == 90 {
			meta.Width, meta.Height = meta.Height, meta.Width
		}

		if meta.Duration == 0 {
			meta.Duration = parseSeconds(s.Duration)
		}
	}

	if !found {
		return mediatypes.TechnicalMetadata{}, fmt.Errorf("%w: no video stream", ErrUnavailable)
	}

	if d := parseSeconds(probe.Format.Duration); d > 0 {
		meta.Duration = d
	}

	tags := probe.Format.Tags
	if t, err := time.Parse(time.RFC3339Nano, tags["creation_time"]); err == nil && t.Year() > 1970 {
		meta.CaptureTime = &t
	}

	for _, key := range []string{"com.apple.quicktime.location.ISO6709", "location"} {
		if gps, ok := parseISO6709(tags[key]); ok {
			meta.GPS = gps
			break
		}
	}

	meta.Make = tags["com.apple.quicktime.make"]
	meta.Model = tags["com.apple.quicktime.model"]

	return meta, nil
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(math.Round(f * float64(time.Second)))
}

var iso6709 = regexp.MustCompile(`^([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)?/?$`)

// parseISO6709 parses the decimal-degree form phones write into QuickTime
// metadata, e.g. "+37.7749-122.4194+010.000/".
func parseISO6709(s string) (*mediatypes.GPS, bool) {
	m := iso6709.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || !validCoordinate(lat, lon) {
		return nil, false
	}
	gps := &mediatypes.GPS{Latitude: lat, Longitude: lon}
	if m[3] != "" {
		if alt, err := strconv.ParseFloat(m[3], 64); err == nil {
			gps.Altitude = &alt
		}
	}
	return gps, true
}
