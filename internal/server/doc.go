// Package server assembles the HTTP front of the EventSub service.
//
// It owns the route table and composes a middleware chain of request IDs,
// logging, security headers, CORS, metrics, and rate limiting so every
// handler runs behind the same protections and instrumentation.
//
// Webhook deliveries additionally pass a per-IP fixed window which can be
// backed by redis when several replicas share one callback URL.
package server
