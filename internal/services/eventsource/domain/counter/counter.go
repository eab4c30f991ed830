// Package counter is a small aggregate used by the esctl tool and the
// end-to-end tests: a non-negative integer moved by increments, decrements
// and resets.
package counter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/command"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/consistency"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/validation/schema"
)

// TypeName is the aggregate type name.
const TypeName = "Counter"

// Event kinds.
const (
	KindIncremented event.Kind = "Incremented"
	KindDecremented event.Kind = "Decremented"
	KindReset       event.Kind = "Reset"
)

// Command names.
const (
	CommandIncrement command.Name = "Increment"
	CommandDecrement command.Name = "Decrement"
	CommandReset     command.Name = "Reset"
)

// ErrBelowZero rejects a decrement larger than the current value.
var ErrBelowZero = errors.New("counter cannot go below zero")

// State is the counter value.
type State struct {
	N int `json:"n"`
}

// Incremented records an increase.
type Incremented struct {
	By int `json:"by"`
}

// Decremented records a decrease.
type Decremented struct {
	By int `json:"by"`
}

// Reset records a return to zero.
type Reset struct{}

// Amount is the input of Increment and Decrement. By defaults to 1.
type Amount struct {
	By int `json:"by"`
}

const amountSchema = `{
	"type": "object",
	"properties": {
		"by": {"type": "integer", "minimum": 1, "maximum": 1000000}
	},
	"required": ["by"]
}`

var amount = schema.MustCompile(amountSchema)

// Config tunes snapshotting of the counter type.
type Config struct {
	SnapshotThreshold int
	SnapshotPrefix    string
}

// NewType builds the counter aggregate type.
func NewType(cfg Config) (*aggregate.Type[State], error) {
	return aggregate.NewType(aggregate.Config[State]{
		Name:         TypeName,
		Description:  "A non-negative integer counter",
		InitialState: State{},
		Events: []event.Definition[State]{
			event.MustDefine(KindIncremented, applyIncremented,
				event.WithDescription("The counter was increased"),
				event.WithPayloadValidator(amount.Func())),
			event.MustDefine(KindDecremented, applyDecremented,
				event.WithDescription("The counter was decreased"),
				event.WithPayloadValidator(amount.Func())),
			event.MustDefine(KindReset, applyReset,
				event.WithDescription("The counter went back to zero")),
		},
		Commands: []command.Definition[State]{
			command.MustDefine(CommandIncrement, increment,
				command.WithDescription("Increase the counter"),
				command.WithParser(parseAmount),
				command.WithInputValidator(amount.Func())),
			command.MustDefine(CommandDecrement, decrement,
				command.WithDescription("Decrease the counter, never below zero"),
				command.WithParser(parseAmount),
				command.WithInputValidator(amount.Func())),
			command.MustDefine(CommandReset, reset,
				command.WithDescription("Set the counter back to zero")),
		},
		SnapshotThreshold: cfg.SnapshotThreshold,
		SnapshotPrefix:    cfg.SnapshotPrefix,
	})
}

func applyIncremented(s State, e Incremented) (State, error) {
	s.N += e.By
	return s, nil
}

func applyDecremented(s State, e Decremented) (State, error) {
	if e.By > s.N {
		return s, fmt.Errorf("%w: %d - %d", ErrBelowZero, s.N, e.By)
	}
	s.N -= e.By
	return s, nil
}

func applyReset(State, Reset) (State, error) {
	return State{}, nil
}

func parseAmount(raw any) (any, error) {
	var in Amount
	switch v := raw.(type) {
	case nil:
	case Amount:
		in = v
	case int:
		in.By = v
	case json.RawMessage:
		if err := decodeAmount(v, &in); err != nil {
			return nil, err
		}
	case []byte:
		if err := decodeAmount(v, &in); err != nil {
			return nil, err
		}
	case string:
		if err := decodeAmount([]byte(v), &in); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported input type %T", raw)
	}
	if in.By == 0 {
		in.By = 1
	}
	return in, nil
}

func decodeAmount(data []byte, in *Amount) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, in)
}

func increment(h command.Handle[State], in Amount) (any, error) {
	if _, err := h.Stage(KindIncremented, Incremented{By: in.By}, consistency.None); err != nil {
		return nil, err
	}
	return h.State().N, nil
}

func decrement(h command.Handle[State], in Amount) (any, error) {
	if in.By > h.State().N {
		return nil, fmt.Errorf("%w: %d - %d", ErrBelowZero, h.State().N, in.By)
	}
	if _, err := h.Stage(KindDecremented, Decremented{By: in.By}, consistency.MustExist); err != nil {
		return nil, err
	}
	return h.State().N, nil
}

func reset(h command.Handle[State], _ struct{}) (any, error) {
	if _, err := h.Stage(KindReset, Reset{}, consistency.MustMatchVersion); err != nil {
		return nil, err
	}
	return h.State().N, nil
}
