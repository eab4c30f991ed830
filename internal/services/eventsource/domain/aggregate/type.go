package aggregate

import (
	"fmt"

	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/codec"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/command"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/naming"
)

// StreamSeparator joins the parts of derived stream names and snapshot keys.
const StreamSeparator = "::"

// StreamNamer derives the stream of an aggregate from its type name and id.
type StreamNamer func(typeName, id string) string

// DefaultStreamName yields "Type::id", or "Type" for singleton aggregates.
func DefaultStreamName(typeName, id string) string {
	if id == "" {
		return typeName
	}
	return typeName + StreamSeparator + id
}

// FixedStreamName maps every instance of a type to the same stream.
func FixedStreamName(stream string) StreamNamer {
	return func(string, string) string { return stream }
}

// Config declares an aggregate type with state S.
type Config[S any] struct {
	Name        string
	Description string
	// InitialState seeds instances that have no snapshot. Reducers must not
	// mutate it in place.
	InitialState S
	Events       []event.Definition[S]
	Commands     []command.Definition[S]
	// StreamName defaults to DefaultStreamName.
	StreamName StreamNamer
	// StateCodec defaults to JSON.
	StateCodec codec.Codec
	// SnapshotThreshold is the replayed event count that marks a loaded
	// instance for a snapshot refresh. Zero disables snapshots.
	SnapshotThreshold int
	// SnapshotPrefix namespaces snapshot keys as "prefix::stream".
	SnapshotPrefix string
}

// Type is an immutable aggregate descriptor with resolved dispatch tables.
type Type[S any] struct {
	name              string
	description       string
	initialState      S
	events            map[event.Kind]event.Definition[S]
	commands          map[command.Name]command.Definition[S]
	streamName        StreamNamer
	stateCodec        codec.Codec
	snapshotThreshold int
	snapshotPrefix    string
}

// NewType validates cfg and builds the dispatch tables.
func NewType[S any](cfg Config[S]) (*Type[S], error) {
	if !naming.IsIdentifier(cfg.Name) {
		return nil, configurationError(cfg.Name, fmt.Sprintf("aggregate type name %q is not an identifier", cfg.Name))
	}
	if cfg.SnapshotThreshold < 0 {
		return nil, configurationError(cfg.Name, fmt.Sprintf("aggregate %s: snapshot threshold must not be negative", cfg.Name))
	}
	if naming.HasWhitespace(cfg.SnapshotPrefix) {
		return nil, configurationError(cfg.Name, fmt.Sprintf("aggregate %s: snapshot prefix must not contain whitespace", cfg.Name))
	}

	t := &Type[S]{
		name:              cfg.Name,
		description:       cfg.Description,
		initialState:      cfg.InitialState,
		events:            make(map[event.Kind]event.Definition[S], len(cfg.Events)),
		commands:          make(map[command.Name]command.Definition[S], len(cfg.Commands)),
		streamName:        cfg.StreamName,
		stateCodec:        cfg.StateCodec,
		snapshotThreshold: cfg.SnapshotThreshold,
		snapshotPrefix:    cfg.SnapshotPrefix,
	}
	if t.description == "" {
		t.description = event.DefaultDescription
	}
	if t.streamName == nil {
		t.streamName = DefaultStreamName
	}
	if t.stateCodec == nil {
		t.stateCodec = codec.JSON
	}

	for _, def := range cfg.Events {
		if def.Kind() == "" {
			return nil, configurationError(cfg.Name, fmt.Sprintf("aggregate %s: event definition is not initialized", cfg.Name))
		}
		if _, exists := t.events[def.Kind()]; exists {
			return nil, configurationError(cfg.Name, fmt.Sprintf("aggregate %s: duplicate event kind %s", cfg.Name, def.Kind()))
		}
		t.events[def.Kind()] = def
	}
	for _, def := range cfg.Commands {
		if def.Name() == "" {
			return nil, configurationError(cfg.Name, fmt.Sprintf("aggregate %s: command definition is not initialized", cfg.Name))
		}
		if _, exists := t.commands[def.Name()]; exists {
			return nil, configurationError(cfg.Name, fmt.Sprintf("aggregate %s: duplicate command %s", cfg.Name, def.Name()))
		}
		t.commands[def.Name()] = def
	}
	return t, nil
}

// MustNewType is like NewType but panics on error.
func MustNewType[S any](cfg Config[S]) *Type[S] {
	t, err := NewType(cfg)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the aggregate type name.
func (t *Type[S]) Name() string { return t.name }

// Description returns the aggregate type description.
func (t *Type[S]) Description() string { return t.description }

// SnapshotThreshold returns the configured threshold, zero when disabled.
func (t *Type[S]) SnapshotThreshold() int { return t.snapshotThreshold }

// EventKinds lists the defined event kinds.
func (t *Type[S]) EventKinds() []event.Kind {
	kinds := make([]event.Kind, 0, len(t.events))
	for kind := range t.events {
		kinds = append(kinds, kind)
	}
	return kinds
}

// CommandNames lists the defined command names.
func (t *Type[S]) CommandNames() []command.Name {
	names := make([]command.Name, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	return names
}

// Stream derives the stream name for id, rejecting empty names and names
// containing whitespace.
func (t *Type[S]) Stream(id string) (string, error) {
	stream := t.streamName(t.name, id)
	if stream == "" || naming.HasWhitespace(stream) {
		return "", configurationError(t.name, fmt.Sprintf("aggregate %s: invalid stream name %q", t.name, stream))
	}
	return stream, nil
}

func (t *Type[S]) snapshotKey(stream string) string {
	if t.snapshotPrefix == "" {
		return stream
	}
	return t.snapshotPrefix + StreamSeparator + stream
}

func (t *Type[S]) encodeState(state S) ([]byte, error) {
	data, err := t.stateCodec.Marshal(state)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeStateSerialization,
			fmt.Sprintf("serialize %s state", t.name),
			map[string]string{"aggregate_type": t.name}, err)
	}
	return data, nil
}

func (t *Type[S]) decodeState(data []byte) (S, error) {
	var state S
	if err := t.stateCodec.Unmarshal(data, &state); err != nil {
		return state, apperrors.WrapWithMetadata(apperrors.CodeStateSerialization,
			fmt.Sprintf("deserialize %s state", t.name),
			map[string]string{"aggregate_type": t.name}, err)
	}
	return state, nil
}

func configurationError(typeName, message string) error {
	return apperrors.WithMetadata(apperrors.CodeConfiguration, message, map[string]string{"aggregate_type": typeName})
}
