package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"media-archive/internal/startup"
)

func TestGetVersion(t *testing.T) {
	h := New(Deps{Tools: []startup.ToolStatus{
		{Name: "exiftool", Path: "/usr/bin/exiftool", Version: "12.76"},
		{Name: "ffmpeg", Err: errors.New("not found in PATH")},
	}})

	w := httptest.NewRecorder()
	h.GetVersion(w, httptest.NewRequest(http.MethodGet, "/version", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("GET /version = %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}

	var resp VersionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
	want := []ToolInfo{
		{Name: "exiftool", Path: "/usr/bin/exiftool", Version: "12.76", Available: true},
		{Name: "ffmpeg", Available: false, Error: "not found in PATH"},
	}
	if len(resp.Tools) != len(want) {
		t.Fatalf("tools = %+v, want %+v", resp.Tools, want)
	}
	for i := range want {
		if resp.Tools[i] != want[i] {
			t.Errorf("tools[%d] = %+v, want %+v", i, resp.Tools[i], want[i])
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	h := New(Deps{})
	w := httptest.NewRecorder()
	h.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "promhttp_metric_handler_requests_total") {
		t.Error("scrape counters missing from /metrics output")
	}
}
