// Package timeouts defines shared timeout constants used across the server.
// Centralizing these values keeps the HTTP, gRPC and upstream boundaries
// consistent and makes the durations discoverable.
package timeouts

import "time"

// UpstreamRequest caps a single QBO REST round trip. Retries get a fresh
// budget per attempt.
const UpstreamRequest = 30 * time.Second

// TokenRefresh caps an OAuth token refresh against the Intuit endpoint.
const TokenRefresh = 10 * time.Second

// HealthCheck caps a single gRPC health probe.
const HealthCheck = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 35 * time.Second

// TelemetryShutdown limits how long exporters may flush on exit.
const TelemetryShutdown = 5 * time.Second
