// Package middleware wraps the archive API router.
//
// RequestID runs outermost so Logger can put the id on each W3C access
// line. Metrics is installed with router.Use, inside the router, because it
// labels by matched route template. Compression gzips JSON and NDJSON
// bodies only. Every wrapping writer implements Unwrap and Flush so event
// streams can set per-write deadlines through http.ResponseController.
package middleware
