// Package api hosts the HTTP handlers that front the clipfetch REST API.
//
// Handler coordinates request validation and response shaping, delegating
// the actual download work to the media orchestrator and persistence to
// storage.Repository implementations injected at construction time. The
// package does not reach for globals or singletons and expects callers to
// supply fully configured dependencies.
//
// Handlers assume upstream middleware from internal/server has already
// enforced authentication, rate limiting, metrics, auditing, and logging.
// New routes should preserve that contract by avoiding duplicate validation
// and by leaning on the middleware guarantees established in the server
// stack.
package api
