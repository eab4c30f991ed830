// Package event defines how an aggregate type reacts to the facts recorded in
// its stream.
//
// A Definition binds an event kind to a reducer that folds the payload into
// state, plus the codec used to persist the payload and an optional validator
// run before an event is staged. Definitions are immutable once built and may
// be shared by any number of aggregate instances.
package event
