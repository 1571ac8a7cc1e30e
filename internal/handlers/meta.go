package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-archive/internal/startup"
)

// ToolInfo is the JSON form of a startup tool check.
type ToolInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

func toolInfo(tools []startup.ToolStatus) []ToolInfo {
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		info := ToolInfo{Name: t.Name, Path: t.Path, Version: t.Version, Available: t.Available()}
		if t.Err != nil {
			info.Error = t.Err.Error()
		}
		out = append(out, info)
	}
	return out
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	startup.BuildInfo
	Tools []ToolInfo `json:"tools"`
}

// GetVersion reports build information and which external tools were
// usable at startup. Without exiftool or ffmpeg, imports still succeed
// with reduced metadata and derivatives, so operators check here first.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, VersionResponse{BuildInfo: startup.GetBuildInfo(), Tools: h.tools})
}

// MetricsHandler serves the default Prometheus registry, including the
// handler's own scrape counters.
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorHandling:     promhttp.ContinueOnError,
			EnableOpenMetrics: true,
		}),
	)
}
