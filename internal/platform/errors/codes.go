// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Definition errors
	CodeConfiguration Code = "CONFIGURATION"

	// Aggregate lifecycle errors
	CodeAggregateLoading   Code = "AGGREGATE_LOADING"
	CodeAggregateSaving    Code = "AGGREGATE_SAVING"
	CodeStateSerialization Code = "STATE_SERIALIZATION"

	// Input errors
	CodeCommandInputInvalid Code = "COMMAND_INPUT_INVALID"
	CodeEventPayloadInvalid Code = "EVENT_PAYLOAD_INVALID"

	// Storage errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeVersionConflict Code = "VERSION_CONFLICT"
)

// Sentinels for errors.Is matching by code.
var (
	ErrConfiguration       = New(CodeConfiguration, "configuration error")
	ErrAggregateLoading    = New(CodeAggregateLoading, "aggregate loading failed")
	ErrAggregateSaving     = New(CodeAggregateSaving, "aggregate saving failed")
	ErrStateSerialization  = New(CodeStateSerialization, "state serialization failed")
	ErrCommandInputInvalid = New(CodeCommandInputInvalid, "command input invalid")
	ErrEventPayloadInvalid = New(CodeEventPayloadInvalid, "event payload invalid")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrVersionConflict     = New(CodeVersionConflict, "version conflict")
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCommandInputInvalid,
		CodeEventPayloadInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - the stream moved under the caller
	case CodeVersionConflict:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// Unavailable - collaborator I/O failed, caller may retry
	case CodeAggregateLoading,
		CodeAggregateSaving:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
