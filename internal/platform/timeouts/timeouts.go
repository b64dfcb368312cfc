// Package timeouts defines shared timeout constants used across commands.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Publish caps the outbound call that posts a finished round's summary to
// the issue tracker, so a slow tracker cannot stall the round transition.
const Publish = 10 * time.Second
