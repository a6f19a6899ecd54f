// Package server assembles the clipfetch HTTP server.
//
// It builds a consistent middleware chain of auth, rate limiting, security
// headers, CORS, metrics, audit, and logging so handlers all share common
// protections and instrumentation.
//
// It serves the API routes, the metrics endpoint, and completed download
// artifacts from the output directory, keeping everything behind one
// multiplexer.
package server
