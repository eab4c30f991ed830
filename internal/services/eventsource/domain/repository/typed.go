package repository

import (
	"context"
	"fmt"

	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
)

// LoadOne loads the aggregate of typ identified by id.
func LoadOne[S any](ctx context.Context, r *Repository, typ *aggregate.Type[S], id string) (*aggregate.Instance[S], error) {
	inst, err := typ.New(id)
	if err != nil {
		return nil, err
	}
	loaded, err := LoadAll(ctx, r, inst)
	if err != nil {
		return nil, err
	}
	return loaded[0], nil
}

// LoadAll loads instances of a single aggregate type.
func LoadAll[S any](ctx context.Context, r *Repository, instances ...*aggregate.Instance[S]) ([]*aggregate.Instance[S], error) {
	roots, err := r.Load(ctx, toRoots(instances))
	if err != nil {
		return nil, err
	}
	return fromRoots[S](roots)
}

// SaveAll saves instances of a single aggregate type and returns them
// reloaded.
func SaveAll[S any](ctx context.Context, r *Repository, instances ...*aggregate.Instance[S]) ([]*aggregate.Instance[S], error) {
	roots, err := r.Save(ctx, toRoots(instances))
	if err != nil {
		return nil, err
	}
	return fromRoots[S](roots)
}

func toRoots[S any](instances []*aggregate.Instance[S]) []aggregate.Root {
	roots := make([]aggregate.Root, len(instances))
	for i, inst := range instances {
		if inst != nil {
			roots[i] = inst
		}
	}
	return roots
}

func fromRoots[S any](roots []aggregate.Root) ([]*aggregate.Instance[S], error) {
	instances := make([]*aggregate.Instance[S], len(roots))
	for i, root := range roots {
		inst, ok := root.(*aggregate.Instance[S])
		if !ok {
			return nil, fmt.Errorf("aggregate at position %d has type %T", i, root)
		}
		instances[i] = inst
	}
	return instances, nil
}
