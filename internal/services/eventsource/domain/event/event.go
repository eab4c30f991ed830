package event

import (
	"errors"
	"fmt"

	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/codec"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/naming"
)

// DefaultDescription is used when a definition carries no description.
const DefaultDescription = "No description provided"

// ErrUnknownKind indicates an event kind the aggregate type does not define.
var ErrUnknownKind = errors.New("event kind is not defined")

// Kind identifies an event within an aggregate type.
type Kind string

// Record is the persisted form of an event.
type Record struct {
	Kind Kind
	Data []byte
}

// Staged is an event applied in memory but not yet committed.
type Staged struct {
	Kind    Kind
	Payload any
	Data    []byte
}

// Record returns the persisted form of the staged event.
func (s Staged) Record() Record {
	return Record{Kind: s.Kind, Data: append([]byte(nil), s.Data...)}
}

// Validator checks a payload before it is staged.
type Validator func(payload any) error

// Definition describes one event kind of an aggregate with state S.
type Definition[S any] struct {
	kind        Kind
	description string
	codec       codec.Codec
	validators  []Validator
	reduce      func(S, any) (S, error)
	decode      func(codec.Codec, []byte) (any, error)
	accepts     func(any) bool
}

type options struct {
	description string
	codec       codec.Codec
	validators  []Validator
}

// Option customizes a Definition.
type Option func(*options)

// WithDescription documents the event.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// WithCodec overrides the JSON payload codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithPayloadValidator adds a validator run before the event is staged.
func WithPayloadValidator(v Validator) Option {
	return func(o *options) {
		if v != nil {
			o.validators = append(o.validators, v)
		}
	}
}

// Define builds an event definition whose payload has type P.
func Define[S, P any](kind Kind, reduce func(S, P) (S, error), opts ...Option) (Definition[S], error) {
	if !naming.IsIdentifier(string(kind)) {
		return Definition[S]{}, apperrors.WithMetadata(apperrors.CodeConfiguration,
			fmt.Sprintf("event kind %q is not an identifier", kind),
			map[string]string{"event_kind": string(kind)})
	}
	if reduce == nil {
		return Definition[S]{}, apperrors.WithMetadata(apperrors.CodeConfiguration,
			fmt.Sprintf("event %s requires a reducer", kind),
			map[string]string{"event_kind": string(kind)})
	}

	cfg := options{description: DefaultDescription, codec: codec.JSON}
	for _, opt := range opts {
		opt(&cfg)
	}

	return Definition[S]{
		kind:        kind,
		description: cfg.description,
		codec:       cfg.codec,
		validators:  cfg.validators,
		reduce: func(state S, payload any) (S, error) {
			typed, ok := payload.(P)
			if !ok {
				return state, fmt.Errorf("event %s: payload has type %T, want %T", kind, payload, *new(P))
			}
			return reduce(state, typed)
		},
		decode: func(c codec.Codec, data []byte) (any, error) {
			var payload P
			if err := c.Unmarshal(data, &payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
		accepts: func(payload any) bool {
			_, ok := payload.(P)
			return ok
		},
	}, nil
}

// MustDefine is like Define but panics on error. It suits package-level
// declarations.
func MustDefine[S, P any](kind Kind, reduce func(S, P) (S, error), opts ...Option) Definition[S] {
	def, err := Define(kind, reduce, opts...)
	if err != nil {
		panic(err)
	}
	return def
}

// Kind returns the event kind.
func (d Definition[S]) Kind() Kind { return d.kind }

// Description returns the event description.
func (d Definition[S]) Description() string { return d.description }

// Reduce folds payload into state.
func (d Definition[S]) Reduce(state S, payload any) (S, error) {
	return d.reduce(state, payload)
}

// Validate checks that payload has the definition's type and passes every
// validator. Failures carry CodeEventPayloadInvalid.
func (d Definition[S]) Validate(payload any) error {
	if !d.accepts(payload) {
		return apperrors.WithMetadata(apperrors.CodeEventPayloadInvalid,
			fmt.Sprintf("event %s: unexpected payload type %T", d.kind, payload),
			map[string]string{"event_kind": string(d.kind)})
	}
	for _, validate := range d.validators {
		if err := validate(payload); err != nil {
			return apperrors.WrapWithMetadata(apperrors.CodeEventPayloadInvalid,
				fmt.Sprintf("event %s: invalid payload", d.kind),
				map[string]string{"event_kind": string(d.kind)}, err)
		}
	}
	return nil
}

// Encode serializes payload with the definition's codec.
func (d Definition[S]) Encode(payload any) ([]byte, error) {
	data, err := d.codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", d.kind, err)
	}
	return data, nil
}

// Decode deserializes a stored payload.
func (d Definition[S]) Decode(data []byte) (any, error) {
	payload, err := d.decode(d.codec, data)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", d.kind, err)
	}
	return payload, nil
}
