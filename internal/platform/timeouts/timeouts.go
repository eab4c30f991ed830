// Package timeouts defines shared timeout constants used across packages.
// Centralizing these values keeps the durations discoverable.
package timeouts

import "time"

// SnapshotRefresh caps a detached snapshot write after a load.
const SnapshotRefresh = 5 * time.Second

// RedisDial caps the wait time when dialing Redis.
const RedisDial = 5 * time.Second

// RedisRequest caps a single Redis read or write.
const RedisRequest = 3 * time.Second

// Shutdown limits how long telemetry providers get to flush on exit.
const Shutdown = 5 * time.Second
