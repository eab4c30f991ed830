// Package repository loads and saves batches of aggregates through an event
// store and an optional snapshot store.
//
// Loads run concurrently, one goroutine per aggregate, and return results in
// input order. A snapshot is only ever an optimization: lookup failures fall
// back to a full replay and refresh failures are logged and counted, never
// returned. Saves commit every dirty aggregate in one atomic multi-stream
// append and then reload the whole batch. Nothing is retried.
package repository
