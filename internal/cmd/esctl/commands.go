package esctl

import (
	"context"
	"fmt"
	"io"

	"github.com/gtriggiano/es-cqrs-utils/internal/platform/log"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/command"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/counter"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/repository"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

func execute(ctx context.Context, cfg Config, b *backend, out io.Writer) error {
	if cfg.Command == CommandEvents {
		return listEvents(ctx, cfg, b, out)
	}

	typ, err := counter.NewType(counter.Config{
		SnapshotThreshold: cfg.SnapshotThreshold,
		SnapshotPrefix:    cfg.SnapshotPrefix,
	})
	if err != nil {
		return err
	}
	opts := []repository.Option{repository.WithLogger(log.WithComponent("repository"))}
	var registry *prometheus.Registry
	if cfg.Metrics {
		registry = prometheus.NewRegistry()
		opts = append(opts, repository.WithMetrics(metrics.New(registry)))
	}
	if b.snapshots != nil {
		opts = append(opts, repository.WithSnapshotStore(b.snapshots))
	}
	repo, err := repository.New(b.events, opts...)
	if err != nil {
		return err
	}

	runErr := runCounter(ctx, cfg, repo, typ, out)
	// Snapshot refreshes run detached; let them land before stores close
	// and before their outcome is reported.
	repo.Wait()
	if registry != nil {
		if err := writeMetrics(out, registry); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func runCounter(ctx context.Context, cfg Config, repo *repository.Repository, typ *aggregate.Type[counter.State], out io.Writer) error {
	inst, err := repository.LoadOne(ctx, repo, typ, cfg.ID)
	if err != nil {
		return err
	}

	var name command.Name
	var input any
	switch cfg.Command {
	case CommandShow:
		return printCounter(out, inst)
	case CommandIncrement:
		name, input = counter.CommandIncrement, counter.Amount{By: cfg.By}
	case CommandDecrement:
		name, input = counter.CommandDecrement, counter.Amount{By: cfg.By}
	case CommandReset:
		name = counter.CommandReset
	default:
		return fmt.Errorf("unknown subcommand %q", cfg.Command)
	}

	if _, err := inst.Invoke(name, input); err != nil {
		return err
	}
	saved, err := repository.SaveAll(ctx, repo, inst)
	if err != nil {
		return err
	}
	return printCounter(out, saved[0])
}

func printCounter(out io.Writer, inst *aggregate.Instance[counter.State]) error {
	_, err := fmt.Fprintf(out, "id=%s stream=%s version=%d n=%d\n",
		inst.ID(), inst.Stream(), inst.Version(), inst.State().N)
	return err
}

// writeMetrics dumps every collected family in the Prometheus text format.
func writeMetrics(out io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(out, family); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func listEvents(ctx context.Context, cfg Config, b *backend, out io.Writer) error {
	records, err := b.events.GetEventsOfStream(ctx, cfg.Stream, cfg.From)
	if err != nil {
		return err
	}
	for i, record := range records {
		if _, err := fmt.Fprintf(out, "%d\t%s\t%s\n", cfg.From+uint64(i)+1, record.Kind, record.Data); err != nil {
			return err
		}
	}
	return nil
}
