// Package command defines the intents an aggregate accepts.
//
// A Definition parses raw caller input into a typed value, runs the input
// validators, and hands the result to a handler together with a Handle on the
// target aggregate. Handlers decide which events to stage; they never touch
// storage.
package command
