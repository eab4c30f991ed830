package command

import (
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/consistency"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/naming"
)

// ErrUnknown indicates a command name the aggregate type does not define.
var ErrUnknown = errors.New("command is not defined")

// Name identifies a command within an aggregate type.
type Name string

// Handle is the view of an aggregate a command handler works with.
type Handle[S any] interface {
	ID() string
	Stream() string
	Version() uint64
	State() S
	Stage(kind event.Kind, payload any, hint consistency.Requirement) (event.Staged, error)
}

// Parser turns raw input into the handler's input value.
type Parser func(raw any) (any, error)

// Validator checks a parsed input.
type Validator func(input any) error

// Definition describes one command of an aggregate with state S.
type Definition[S any] struct {
	name        Name
	description string
	parse       Parser
	validators  []Validator
	handle      func(Handle[S], any) (any, error)
}

type options struct {
	description string
	parser      Parser
	validators  []Validator
}

// Option customizes a Definition.
type Option func(*options)

// WithDescription documents the command.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// WithParser replaces the default input parser. The parser must return a
// value of the handler's input type.
func WithParser(p Parser) Option {
	return func(o *options) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithInputValidator adds a validator run on the parsed input.
func WithInputValidator(v Validator) Option {
	return func(o *options) {
		if v != nil {
			o.validators = append(o.validators, v)
		}
	}
}

// Define builds a command definition whose parsed input has type I.
func Define[S, I any](name Name, handle func(Handle[S], I) (any, error), opts ...Option) (Definition[S], error) {
	if !naming.IsIdentifier(string(name)) {
		return Definition[S]{}, apperrors.WithMetadata(apperrors.CodeConfiguration,
			fmt.Sprintf("command name %q is not an identifier", name),
			map[string]string{"command": string(name)})
	}
	if handle == nil {
		return Definition[S]{}, apperrors.WithMetadata(apperrors.CodeConfiguration,
			fmt.Sprintf("command %s requires a handler", name),
			map[string]string{"command": string(name)})
	}

	cfg := options{description: event.DefaultDescription, parser: DecodeInput[I]}
	for _, opt := range opts {
		opt(&cfg)
	}

	return Definition[S]{
		name:        name,
		description: cfg.description,
		parse:       cfg.parser,
		validators:  cfg.validators,
		handle: func(h Handle[S], input any) (any, error) {
			typed, ok := input.(I)
			if !ok {
				return nil, inputInvalid(name, fmt.Sprintf("parsed input has type %T, want %T", input, *new(I)), nil)
			}
			return handle(h, typed)
		},
	}, nil
}

// MustDefine is like Define but panics on error.
func MustDefine[S, I any](name Name, handle func(Handle[S], I) (any, error), opts ...Option) Definition[S] {
	def, err := Define(name, handle, opts...)
	if err != nil {
		panic(err)
	}
	return def
}

// Name returns the command name.
func (d Definition[S]) Name() Name { return d.name }

// Description returns the command description.
func (d Definition[S]) Description() string { return d.description }

// Parse converts raw input and runs the validators. Failures carry
// CodeCommandInputInvalid.
func (d Definition[S]) Parse(raw any) (any, error) {
	input, err := d.parse(raw)
	if err != nil {
		return nil, inputInvalid(d.name, "could not parse input", err)
	}
	for _, validate := range d.validators {
		if err := validate(input); err != nil {
			return nil, inputInvalid(d.name, "input rejected", err)
		}
	}
	return input, nil
}

// Handle runs the handler against h with an already parsed input.
func (d Definition[S]) Handle(h Handle[S], input any) (any, error) {
	return d.handle(h, input)
}

// DecodeInput is the default parser. It passes values of type I through,
// JSON-decodes byte and string input, and maps nil to the zero I.
func DecodeInput[I any](raw any) (any, error) {
	var input I
	switch v := raw.(type) {
	case I:
		return v, nil
	case nil:
		return input, nil
	case json.RawMessage:
		return decodeJSON[I](v)
	case []byte:
		return decodeJSON[I](v)
	case string:
		return decodeJSON[I]([]byte(v))
	default:
		return nil, fmt.Errorf("unsupported input type %T", raw)
	}
}

func decodeJSON[I any](data []byte) (any, error) {
	var input I
	if len(data) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}

func inputInvalid(name Name, message string, cause error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeCommandInputInvalid,
		fmt.Sprintf("command %s: %s", name, message),
		map[string]string{"command": string(name)}, cause)
}
