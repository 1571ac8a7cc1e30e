package middleware

import (
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"media-archive/internal/logging"
)

// accessWriter records what the access log needs from a response.
type accessWriter struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func newAccessWriter(w http.ResponseWriter) *accessWriter {
	return &accessWriter{ResponseWriter: w, status: http.StatusOK}
}

func (aw *accessWriter) WriteHeader(code int) {
	if aw.wroteHeader {
		return
	}
	aw.status = code
	aw.wroteHeader = true
	aw.ResponseWriter.WriteHeader(code)
}

func (aw *accessWriter) Write(b []byte) (int, error) {
	aw.wroteHeader = true
	n, err := aw.ResponseWriter.Write(b)
	aw.size += int64(n)
	return n, err
}

func (aw *accessWriter) Unwrap() http.ResponseWriter { return aw.ResponseWriter }

func (aw *accessWriter) Flush() {
	if f, ok := aw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
	// LogContent logs derivative and original byte requests. They dominate
	// traffic when a gallery scrolls, so they are off by default.
	LogContent bool
}

// DefaultLoggingConfig skips /metrics and logs probes.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:       []string{"/metrics"},
		LogHealthChecks: true,
	}
}

// w3cDirectives precede the first access line. The field list matches
// accessLine.
var w3cDirectives = []string{
	"#Software: MediaArchive/1.0",
	"#Fields: date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes time-taken " +
		"sc(Content-Encoding) cs(User-Agent) cs(Referer) x-request-id",
}

var directivesOnce sync.Once

// Logger returns HTTP logging middleware using W3C Extended Log Format
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			aw := newAccessWriter(w)
			next.ServeHTTP(aw, r)

			directivesOnce.Do(func() {
				for _, d := range w3cDirectives {
					logging.Printf("%s", d)
				}
			})
			logging.Printf("%s", accessLine(r, aw, time.Since(start)))
		})
	}
}

func accessLine(r *http.Request, aw *accessWriter, elapsed time.Duration) string {
	now := time.Now().UTC()
	return strings.Join([]string{
		now.Format(time.DateOnly),
		now.Format(time.TimeOnly),
		w3cField(clientIP(r)),
		w3cField(r.Method),
		w3cField(r.URL.Path),
		w3cField(r.URL.RawQuery),
		strconv.Itoa(aw.status),
		strconv.FormatInt(aw.size, 10),
		strconv.FormatInt(elapsed.Milliseconds(), 10),
		w3cField(aw.Header().Get("Content-Encoding")),
		w3cField(r.UserAgent()),
		w3cField(r.Referer()),
		w3cField(RequestIDFrom(r.Context())),
	}, " ")
}

// w3cField makes a client-controlled value safe to print as one field of
// one line. Empty values become "-"; values containing blanks or quotes
// are quoted with quotes doubled.
func w3cField(s string) string {
	s = stripControl(s)
	switch {
	case s == "":
		return "-"
	case strings.ContainsAny(s, " \t\""):
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// stripControl turns line breaks into spaces and drops every other
// control character except tab, so a value can neither forge a log line
// nor carry terminal escapes.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r':
			return ' '
		case r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

var probePaths = []string{"/health", "/livez", "/readyz"}

func shouldSkip(path string, config LoggingConfig) bool {
	switch {
	case slices.ContainsFunc(config.SkipPaths, func(p string) bool { return strings.HasPrefix(path, p) }):
		return true
	case !config.LogHealthChecks && slices.Contains(probePaths, path):
		return true
	case !config.LogContent && isContentPath(path):
		return true
	}
	return false
}

// isContentPath matches /api/assets/{digest}/{kind} for any kind except
// metadata.
func isContentPath(path string) bool {
	rest, ok := strings.CutPrefix(path, "/api/assets/")
	if !ok {
		return false
	}
	_, kind, ok := strings.Cut(rest, "/")
	return ok && kind != "" && kind != "metadata"
}

// clientIP prefers the first proxy-reported address over the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
