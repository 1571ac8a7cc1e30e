// Package logging is the archive's leveled logger, a thin layer over the
// standard log package.
//
// The level comes from LOG_LEVEL (debug, info, warn, error) or DEBUG=true
// and can be changed at runtime with SetLevel. Ingest, sidecar and cache
// code log through a component Logger from For so concurrent output can be
// told apart.
package logging
