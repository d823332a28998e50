// Package timeouts defines shared timeout constants used across the
// runtime. Centralizing these values prevents drift between components
// and makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the push listener waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the push listener waits for in-flight
// requests during graceful shutdown.
const Shutdown = 5 * time.Second

// JournalFlush bounds the final journal flush during shutdown.
const JournalFlush = 5 * time.Second
