// Package api hosts the HTTP handlers that front the EventSub ingestion
// service.
//
// The handlers assembled by Handler coordinate request validation, webhook
// signature checks, and response shaping while delegating the actual work to
// the streamer, subscription, and analytics components injected at
// construction time. The package does not reach for globals or singletons and
// expects callers to supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced rate limiting, metrics, and logging concerns. New routes
// should preserve that contract by avoiding duplicate instrumentation and by
// leaning on the middleware guarantees established in the server stack.
package api
