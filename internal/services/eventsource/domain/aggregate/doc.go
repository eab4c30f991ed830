// Package aggregate rebuilds aggregates from their stored history and stages
// the events produced by commands.
//
// A Type is built once from its event and command definitions and resolves
// every dispatch table up front. Instances are created by replaying an
// optional snapshot plus a suffix of the stream; commands then stage events
// in memory, raising the consistency requirement that governs the commit.
// Committed history only ever grows through a reload: staging never moves
// the version.
//
// Instances are not safe for concurrent mutation. Types are immutable and
// may be shared freely.
package aggregate
