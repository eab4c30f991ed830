package aggregate

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/command"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/consistency"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
)

type counterState struct {
	N int `json:"n"`
}

type incremented struct{}

type added struct {
	By int `json:"by"`
}

type touched struct{}

var errOverflow = errors.New("counter overflow")

func counterEvents() []event.Definition[counterState] {
	return []event.Definition[counterState]{
		event.MustDefine("Incremented", func(s counterState, _ incremented) (counterState, error) {
			s.N++
			return s, nil
		}),
		event.MustDefine("Added", func(s counterState, p added) (counterState, error) {
			if s.N+p.By > 100 {
				return s, errOverflow
			}
			s.N += p.By
			return s, nil
		}, event.WithPayloadValidator(func(payload any) error {
			if payload.(added).By < 0 {
				return errors.New("by must not be negative")
			}
			return nil
		})),
		event.MustDefine("Touched", func(s counterState, _ touched) (counterState, error) {
			return s, nil
		}),
	}
}

func counterCommands() []command.Definition[counterState] {
	return []command.Definition[counterState]{
		command.MustDefine("Increment", func(h command.Handle[counterState], _ struct{}) (any, error) {
			if _, err := h.Stage("Incremented", incremented{}, consistency.None); err != nil {
				return nil, err
			}
			return h.State().N, nil
		}),
		command.MustDefine("Add", func(h command.Handle[counterState], in added) (any, error) {
			_, err := h.Stage("Added", in, consistency.MustExist)
			return nil, err
		}, command.WithInputValidator(func(input any) error {
			if input.(added).By == 0 {
				return errors.New("by is required")
			}
			return nil
		})),
	}
}

func newCounterType(t *testing.T, mutate func(*Config[counterState])) *Type[counterState] {
	t.Helper()
	cfg := Config[counterState]{
		Name:     "Counter",
		Events:   counterEvents(),
		Commands: counterCommands(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	typ, err := NewType(cfg)
	if err != nil {
		t.Fatalf("new type: %v", err)
	}
	return typ
}

func incrementedRecords(n int) []event.Record {
	records := make([]event.Record, n)
	for i := range records {
		records[i] = event.Record{Kind: "Incremented", Data: []byte(`{}`)}
	}
	return records
}

func TestNewTypeRejectsInvalidConfig(t *testing.T) {
	cases := map[string]Config[counterState]{
		"invalid name":       {Name: "Counter type"},
		"negative threshold": {Name: "Counter", SnapshotThreshold: -1},
		"prefix whitespace":  {Name: "Counter", SnapshotPrefix: "snap shots"},
		"duplicate event": {Name: "Counter", Events: []event.Definition[counterState]{
			counterEvents()[0], counterEvents()[0],
		}},
		"duplicate command": {Name: "Counter", Commands: []command.Definition[counterState]{
			counterCommands()[0], counterCommands()[0],
		}},
		"zero event definition":   {Name: "Counter", Events: []event.Definition[counterState]{{}}},
		"zero command definition": {Name: "Counter", Commands: []command.Definition[counterState]{{}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewType(cfg)
			if !errors.Is(err, apperrors.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestTypeDescribesItself(t *testing.T) {
	typ := newCounterType(t, nil)
	if typ.Name() != "Counter" {
		t.Fatalf("Name = %q", typ.Name())
	}
	if typ.Description() != event.DefaultDescription {
		t.Fatalf("Description = %q", typ.Description())
	}
	if len(typ.EventKinds()) != 3 || len(typ.CommandNames()) != 2 {
		t.Fatalf("kinds = %v, commands = %v", typ.EventKinds(), typ.CommandNames())
	}
}

func TestStreamNames(t *testing.T) {
	typ := newCounterType(t, nil)

	inst, err := typ.New("a")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if inst.Stream() != "Counter::a" || inst.SnapshotKey() != "Counter::a" {
		t.Fatalf("stream = %q, key = %q", inst.Stream(), inst.SnapshotKey())
	}

	singleton, err := typ.New("")
	if err != nil {
		t.Fatalf("new singleton: %v", err)
	}
	if singleton.Stream() != "Counter" {
		t.Fatalf("singleton stream = %q", singleton.Stream())
	}

	prefixed := newCounterType(t, func(c *Config[counterState]) {
		c.SnapshotPrefix = "v2"
		c.StreamName = FixedStreamName("Counters")
	})
	fixed, err := prefixed.New("b")
	if err != nil {
		t.Fatalf("new fixed: %v", err)
	}
	if fixed.Stream() != "Counters" || fixed.SnapshotKey() != "v2::Counters" {
		t.Fatalf("stream = %q, key = %q", fixed.Stream(), fixed.SnapshotKey())
	}

	broken := newCounterType(t, func(c *Config[counterState]) {
		c.StreamName = FixedStreamName("bad stream")
	})
	if _, err := broken.New("c"); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestConstructVersionMatchesHistoryLength(t *testing.T) {
	typ := newCounterType(t, nil)
	for _, n := range []int{0, 1, 5, 20} {
		inst, err := typ.Construct("a", nil, incrementedRecords(n))
		if err != nil {
			t.Fatalf("construct %d: %v", n, err)
		}
		if inst.Version() != uint64(n) {
			t.Fatalf("version = %d, want %d", inst.Version(), n)
		}
		if diff := cmp.Diff(counterState{N: n}, inst.State()); diff != "" {
			t.Fatalf("state mismatch (-want +got):\n%s", diff)
		}
		if inst.Dirty() || len(inst.Staged()) != 0 {
			t.Fatal("expected freshly constructed instance to be clean")
		}
	}
}

func TestConstructFromSnapshot(t *testing.T) {
	typ := newCounterType(t, nil)
	snapshot := &Snapshot{Version: 4, State: []byte(`{"n":4}`)}

	inst, err := typ.Construct("a", snapshot, incrementedRecords(2))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if inst.Version() != 6 {
		t.Fatalf("version = %d, want 6", inst.Version())
	}
	if diff := cmp.Diff(counterState{N: 6}, inst.State()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaySplitsAroundSnapshot(t *testing.T) {
	typ := newCounterType(t, nil)
	h1 := append(incrementedRecords(3), event.Record{Kind: "Added", Data: []byte(`{"by":7}`)})
	h2 := append(incrementedRecords(2), event.Record{Kind: "Added", Data: []byte(`{"by":5}`)})

	whole, err := typ.Construct("a", nil, append(append([]event.Record(nil), h1...), h2...))
	if err != nil {
		t.Fatalf("construct whole: %v", err)
	}
	first, err := typ.Construct("a", nil, h1)
	if err != nil {
		t.Fatalf("construct prefix: %v", err)
	}
	snapshot, err := first.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	split, err := typ.Construct("a", &snapshot, h2)
	if err != nil {
		t.Fatalf("construct split: %v", err)
	}

	if diff := cmp.Diff(whole.State(), split.State()); diff != "" {
		t.Fatalf("state mismatch (-whole +split):\n%s", diff)
	}
	if whole.Version() != split.Version() {
		t.Fatalf("version whole = %d, split = %d", whole.Version(), split.Version())
	}
}

func TestConstructSkipsUnknownKinds(t *testing.T) {
	typ := newCounterType(t, nil)
	history := []event.Record{
		{Kind: "Incremented", Data: []byte(`{}`)},
		{Kind: "Renamed", Data: []byte(`not even json`)},
		{Kind: "Incremented", Data: []byte(`{}`)},
	}
	inst, err := typ.Construct("a", nil, history)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if inst.Version() != 3 {
		t.Fatalf("version = %d, want 3", inst.Version())
	}
	if inst.State().N != 2 {
		t.Fatalf("n = %d, want 2", inst.State().N)
	}
}

func TestConstructRejectsMalformedInput(t *testing.T) {
	typ := newCounterType(t, nil)
	cases := map[string]func() error{
		"zero snapshot version": func() error {
			_, err := typ.Construct("a", &Snapshot{Version: 0, State: []byte(`{}`)}, nil)
			return err
		},
		"nil snapshot state": func() error {
			_, err := typ.Construct("a", &Snapshot{Version: 1}, nil)
			return err
		},
		"record without kind": func() error {
			_, err := typ.Construct("a", nil, []event.Record{{Data: []byte(`{}`)}})
			return err
		},
	}
	for name, construct := range cases {
		t.Run(name, func(t *testing.T) {
			err := construct()
			if err == nil {
				t.Fatal("expected error")
			}
			var coded *apperrors.Error
			if errors.As(err, &coded) {
				t.Fatalf("expected plain error, got coded %s", coded.Code)
			}
		})
	}
}

func TestConstructReplayFailureIsLoadingError(t *testing.T) {
	typ := newCounterType(t, nil)
	history := []event.Record{{Kind: "Added", Data: []byte(`{"by":101}`)}}

	_, err := typ.Construct("a", nil, history)
	if !errors.Is(err, apperrors.ErrAggregateLoading) {
		t.Fatalf("expected loading error, got %v", err)
	}
	if !errors.Is(err, errOverflow) {
		t.Fatalf("expected reducer error as cause, got %v", err)
	}
	var coded *apperrors.Error
	if !errors.As(err, &coded) {
		t.Fatalf("expected coded error, got %T", err)
	}
	want := map[string]string{
		"aggregate_type": "Counter",
		"stream":         "Counter::a",
		"aggregate_id":   "a",
		"event_kind":     "Added",
	}
	if diff := cmp.Diff(want, coded.Metadata); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}

	_, err = typ.Construct("a", nil, []event.Record{{Kind: "Added", Data: []byte(`{`)}})
	if !errors.Is(err, apperrors.ErrAggregateLoading) {
		t.Fatalf("expected loading error for undecodable payload, got %v", err)
	}
}

func TestConstructSnapshotDecodeFailure(t *testing.T) {
	typ := newCounterType(t, nil)
	_, err := typ.Construct("a", &Snapshot{Version: 1, State: []byte(`[`)}, nil)
	if !errors.Is(err, apperrors.ErrAggregateLoading) || !errors.Is(err, apperrors.ErrStateSerialization) {
		t.Fatalf("expected loading error caused by state serialization, got %v", err)
	}
}

func TestNeedsSnapshot(t *testing.T) {
	typ := newCounterType(t, func(c *Config[counterState]) { c.SnapshotThreshold = 3 })
	cases := map[int]bool{0: false, 2: false, 3: true, 10: true}
	for n, want := range cases {
		inst, err := typ.Construct("a", nil, incrementedRecords(n))
		if err != nil {
			t.Fatalf("construct: %v", err)
		}
		if inst.NeedsSnapshot() != want {
			t.Fatalf("NeedsSnapshot with %d events = %v, want %v", n, inst.NeedsSnapshot(), want)
		}
	}

	disabled := newCounterType(t, nil)
	inst, err := disabled.Construct("a", nil, incrementedRecords(50))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if inst.NeedsSnapshot() {
		t.Fatal("expected threshold 0 to disable snapshots")
	}
}

func TestStageKeepsVersion(t *testing.T) {
	typ := newCounterType(t, nil)
	inst, err := typ.Construct("a", nil, incrementedRecords(2))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}

	staged, err := inst.Stage("Added", added{By: 3}, consistency.None)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if staged.Kind != "Added" || string(staged.Data) != `{"by":3}` {
		t.Fatalf("staged = %+v", staged)
	}
	if inst.Version() != 2 {
		t.Fatalf("version = %d, want 2", inst.Version())
	}
	if inst.State().N != 5 {
		t.Fatalf("n = %d, want 5", inst.State().N)
	}
	if !inst.Dirty() || len(inst.Staged()) != 1 {
		t.Fatalf("staged = %+v", inst.Staged())
	}
}

func TestStageRequirementPrecedence(t *testing.T) {
	typ := newCounterType(t, nil)
	inst, err := typ.New("a")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	hints := []consistency.Requirement{
		consistency.None,
		consistency.MustExist,
		consistency.None,
		consistency.MustMatchVersion,
		consistency.MustExist,
	}
	for _, hint := range hints {
		if _, err := inst.Stage("Touched", touched{}, hint); err != nil {
			t.Fatalf("stage: %v", err)
		}
	}
	if inst.Consistency() != consistency.MustMatchVersion {
		t.Fatalf("requirement = %s, want must_match_version", inst.Consistency())
	}
}

func TestStageFailureLeavesInstanceUnchanged(t *testing.T) {
	typ := newCounterType(t, nil)
	inst, err := typ.Construct("a", nil, incrementedRecords(1))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if _, err := inst.Stage("Touched", touched{}, consistency.MustExist); err != nil {
		t.Fatalf("stage: %v", err)
	}

	cases := map[string]struct {
		kind    event.Kind
		payload any
		check   func(error) bool
	}{
		"reducer error": {kind: "Added", payload: added{By: 500}, check: func(err error) bool {
			return errors.Is(err, errOverflow)
		}},
		"validator error": {kind: "Added", payload: added{By: -1}, check: func(err error) bool {
			return errors.Is(err, apperrors.ErrEventPayloadInvalid)
		}},
		"wrong payload type": {kind: "Added", payload: "three", check: func(err error) bool {
			return errors.Is(err, apperrors.ErrEventPayloadInvalid)
		}},
		"unknown kind": {kind: "Renamed", payload: touched{}, check: func(err error) bool {
			return errors.Is(err, event.ErrUnknownKind)
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := inst.Stage(tc.kind, tc.payload, consistency.MustMatchVersion)
			if !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if inst.State().N != 1 {
				t.Fatalf("n = %d, want 1", inst.State().N)
			}
			if len(inst.Staged()) != 1 {
				t.Fatalf("staged = %d, want 1", len(inst.Staged()))
			}
			if inst.Consistency() != consistency.MustExist {
				t.Fatalf("requirement = %s, want must_exist", inst.Consistency())
			}
		})
	}
}

func TestInvoke(t *testing.T) {
	typ := newCounterType(t, nil)
	inst, err := typ.New("a")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	result, err := inst.Invoke("Increment", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != 1 {
		t.Fatalf("result = %v, want 1", result)
	}
	if inst.Version() != 0 || len(inst.Staged()) != 1 || inst.State().N != 1 {
		t.Fatalf("version = %d, staged = %d, n = %d", inst.Version(), len(inst.Staged()), inst.State().N)
	}

	if _, err := inst.Invoke("Add", json.RawMessage(`{"by":2}`)); err != nil {
		t.Fatalf("invoke add: %v", err)
	}
	if inst.Consistency() != consistency.MustExist {
		t.Fatalf("requirement = %s", inst.Consistency())
	}

	if _, err := inst.Invoke("Explode", nil); !errors.Is(err, command.ErrUnknown) {
		t.Fatalf("expected unknown command, got %v", err)
	}
	if _, err := inst.Invoke("Add", `{"by":0}`); !errors.Is(err, apperrors.ErrCommandInputInvalid) {
		t.Fatalf("expected input invalid, got %v", err)
	}
	if len(inst.Staged()) != 2 {
		t.Fatalf("staged = %d, want 2", len(inst.Staged()))
	}
}

func TestAppendEvents(t *testing.T) {
	typ := newCounterType(t, nil)
	snapshot := &Snapshot{Version: 4, State: []byte(`{"n":4}`)}
	inst, err := typ.Construct("a", snapshot, incrementedRecords(1))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if _, err := inst.Invoke("Increment", nil); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	var records []event.Record
	for _, staged := range inst.Staged() {
		records = append(records, staged.Record())
	}
	next, err := inst.AppendEvents(records)
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	if next.Version() != 6 || next.State().N != 6 || next.Dirty() {
		t.Fatalf("version = %d, n = %d, dirty = %v", next.Version(), next.State().N, next.Dirty())
	}
	if inst.Version() != 5 || !inst.Dirty() {
		t.Fatal("expected original instance to be untouched")
	}
}

func TestSnapshotRequiresCleanCommittedInstance(t *testing.T) {
	typ := newCounterType(t, nil)
	fresh, err := typ.New("a")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := fresh.Snapshot(); err == nil {
		t.Fatal("expected error for version 0")
	}

	inst, err := typ.Construct("a", nil, incrementedRecords(2))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	snapshot, err := inst.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if diff := cmp.Diff(Snapshot{Version: 2, State: []byte(`{"n":2}`)}, snapshot); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	if _, err := inst.Stage("Touched", touched{}, consistency.None); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := inst.Snapshot(); err == nil {
		t.Fatal("expected error for dirty instance")
	}
}

func TestRebuildReturnsRoot(t *testing.T) {
	typ := newCounterType(t, nil)
	inst, err := typ.New("a")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	root, err := inst.Rebuild(nil, incrementedRecords(3))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if root.TypeName() != "Counter" || root.ID() != "a" || root.Version() != 3 {
		t.Fatalf("root = %s/%s@%d", root.TypeName(), root.ID(), root.Version())
	}
	if _, err := inst.Rebuild(&Snapshot{}, nil); err == nil {
		t.Fatal("expected malformed snapshot to fail")
	}
}
