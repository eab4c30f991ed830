package aggregate

import (
	"errors"
	"fmt"

	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/command"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/consistency"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
)

// Snapshot is a serialized state captured at a committed version.
type Snapshot struct {
	Version uint64
	State   []byte
}

// Validate checks the snapshot shape.
func (s Snapshot) Validate() error {
	if s.Version < 1 {
		return errors.New("snapshot version must be at least 1")
	}
	if s.State == nil {
		return errors.New("snapshot state is required")
	}
	return nil
}

// Root is the type-erased view of an instance used by the repository, so a
// single batch may mix aggregate types.
type Root interface {
	TypeName() string
	ID() string
	Stream() string
	SnapshotKey() string
	Version() uint64
	Staged() []event.Staged
	Dirty() bool
	Consistency() consistency.Requirement
	NeedsSnapshot() bool
	Snapshot() (Snapshot, error)
	// Rebuild constructs a fresh instance of the same type and id.
	Rebuild(snapshot *Snapshot, history []event.Record) (Root, error)
}

// Instance is an aggregate rebuilt in memory.
type Instance[S any] struct {
	typ           *Type[S]
	id            string
	stream        string
	version       uint64
	state         S
	staged        []event.Staged
	requirement   consistency.Requirement
	needsSnapshot bool
	snapshot      *Snapshot
	history       []event.Record
}

var _ Root = (*Instance[struct{}])(nil)
var _ command.Handle[struct{}] = (*Instance[struct{}])(nil)

// New returns an unhydrated instance at version 0, ready to be loaded.
func (t *Type[S]) New(id string) (*Instance[S], error) {
	return t.Construct(id, nil, nil)
}

// Construct rebuilds an instance from an optional snapshot and the events
// recorded after it. Malformed snapshots and records are rejected with plain
// errors; failures while replaying a known event are loading errors.
func (t *Type[S]) Construct(id string, snapshot *Snapshot, history []event.Record) (*Instance[S], error) {
	stream, err := t.Stream(id)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		if err := snapshot.Validate(); err != nil {
			return nil, err
		}
	}
	for i, record := range history {
		if record.Kind == "" {
			return nil, fmt.Errorf("event at position %d has no kind", i)
		}
	}

	inst := &Instance[S]{
		typ:     t,
		id:      id,
		stream:  stream,
		state:   t.initialState,
		history: append([]event.Record(nil), history...),
	}
	if snapshot != nil {
		state, err := t.decodeState(snapshot.State)
		if err != nil {
			return nil, LoadingError(t.name, stream, id, "", err)
		}
		inst.state = state
		inst.version = snapshot.Version
		inst.snapshot = &Snapshot{Version: snapshot.Version, State: append([]byte(nil), snapshot.State...)}
	}

	for _, record := range history {
		def, ok := t.events[record.Kind]
		if ok {
			payload, err := def.Decode(record.Data)
			if err != nil {
				return nil, LoadingError(t.name, stream, id, record.Kind, err)
			}
			state, err := def.Reduce(inst.state, payload)
			if err != nil {
				return nil, LoadingError(t.name, stream, id, record.Kind, err)
			}
			inst.state = state
		}
		inst.version++
	}
	inst.needsSnapshot = t.snapshotThreshold > 0 && len(history) >= t.snapshotThreshold
	return inst, nil
}

// TypeName returns the aggregate type name.
func (i *Instance[S]) TypeName() string { return i.typ.name }

// Type returns the aggregate type.
func (i *Instance[S]) Type() *Type[S] { return i.typ }

// ID returns the aggregate id, empty for singletons.
func (i *Instance[S]) ID() string { return i.id }

// Stream returns the stream the aggregate is stored in.
func (i *Instance[S]) Stream() string { return i.stream }

// SnapshotKey returns the key the aggregate's snapshots are stored under.
func (i *Instance[S]) SnapshotKey() string { return i.typ.snapshotKey(i.stream) }

// Version returns the number of committed events the instance reflects.
func (i *Instance[S]) Version() uint64 { return i.version }

// State returns the current state, including staged events.
func (i *Instance[S]) State() S { return i.state }

// Staged returns a copy of the staged events.
func (i *Instance[S]) Staged() []event.Staged {
	return append([]event.Staged(nil), i.staged...)
}

// Dirty reports whether any event is staged.
func (i *Instance[S]) Dirty() bool { return len(i.staged) > 0 }

// Consistency returns the strictest requirement staged so far.
func (i *Instance[S]) Consistency() consistency.Requirement { return i.requirement }

// NeedsSnapshot reports whether the replay crossed the snapshot threshold.
func (i *Instance[S]) NeedsSnapshot() bool { return i.needsSnapshot }

// Stage applies payload as an event of the given kind. On any failure the
// instance is left untouched.
func (i *Instance[S]) Stage(kind event.Kind, payload any, hint consistency.Requirement) (event.Staged, error) {
	def, ok := i.typ.events[kind]
	if !ok {
		return event.Staged{}, fmt.Errorf("%w: %s has no event %s", event.ErrUnknownKind, i.typ.name, kind)
	}
	if !hint.Valid() {
		return event.Staged{}, fmt.Errorf("invalid consistency requirement %d", hint)
	}
	if err := def.Validate(payload); err != nil {
		return event.Staged{}, err
	}
	data, err := def.Encode(payload)
	if err != nil {
		return event.Staged{}, err
	}
	state, err := def.Reduce(i.state, payload)
	if err != nil {
		return event.Staged{}, err
	}

	staged := event.Staged{Kind: kind, Payload: payload, Data: data}
	i.staged = append(i.staged, staged)
	i.state = state
	i.requirement = i.requirement.Join(hint)
	return staged, nil
}

// Invoke parses raw for the named command and runs its handler. The
// handler result is passed through.
func (i *Instance[S]) Invoke(name command.Name, raw any) (any, error) {
	def, ok := i.typ.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no command %s", command.ErrUnknown, i.typ.name, name)
	}
	input, err := def.Parse(raw)
	if err != nil {
		return nil, err
	}
	return def.Handle(i, input)
}

// AppendEvents replays records on top of the instance's original snapshot
// and history. Staged events are not carried over.
func (i *Instance[S]) AppendEvents(records []event.Record) (*Instance[S], error) {
	history := make([]event.Record, 0, len(i.history)+len(records))
	history = append(history, i.history...)
	history = append(history, records...)
	return i.typ.Construct(i.id, i.snapshot, history)
}

// Snapshot captures the committed state. Instances with staged events or no
// committed history cannot be snapshotted.
func (i *Instance[S]) Snapshot() (Snapshot, error) {
	if i.Dirty() {
		return Snapshot{}, fmt.Errorf("snapshot %s: instance has staged events", i.stream)
	}
	if i.version == 0 {
		return Snapshot{}, fmt.Errorf("snapshot %s: no committed events", i.stream)
	}
	data, err := i.typ.encodeState(i.state)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: i.version, State: data}, nil
}

// Rebuild constructs a fresh instance of the same type and id.
func (i *Instance[S]) Rebuild(snapshot *Snapshot, history []event.Record) (Root, error) {
	inst, err := i.typ.Construct(i.id, snapshot, history)
	if err != nil {
		return nil, err
	}
	return inst, nil
}
