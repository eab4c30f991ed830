package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeConfiguration       = "CONFIGURATION"
	CodeAggregateLoading    = "AGGREGATE_LOADING"
	CodeAggregateSaving     = "AGGREGATE_SAVING"
	CodeStateSerialization  = "STATE_SERIALIZATION"
	CodeCommandInputInvalid = "COMMAND_INPUT_INVALID"
	CodeEventPayloadInvalid = "EVENT_PAYLOAD_INVALID"
	CodeNotFound            = "NOT_FOUND"
	CodeVersionConflict     = "VERSION_CONFLICT"
)

var enUSMessages = map[Code]string{
	CodeConfiguration:       "The aggregate definition is invalid.",
	CodeAggregateLoading:    "Could not load {{.aggregate_type}} from stream {{.stream}}.",
	CodeAggregateSaving:     "Could not save changes. Please try again.",
	CodeStateSerialization:  "Could not serialize the state of {{.aggregate_type}}.",
	CodeCommandInputInvalid: "The input for {{.command}} is invalid.",
	CodeEventPayloadInvalid: "The payload for {{.event_kind}} is invalid.",
	CodeNotFound:            "The requested resource was not found.",
	CodeVersionConflict:     "Stream {{.stream}} was modified concurrently. Reload and try again.",
}
