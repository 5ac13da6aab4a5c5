package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/internal/config"
	"github.com/paraglidehq/snowflake/metrics"
	"github.com/paraglidehq/snowflake/registry"
)

func newGenCmd(a *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Print new IDs, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("-n must be at least 1")
			}
			return a.gen(cmd.Context(), cmd.OutOrStdout(), count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of IDs to print")
	return cmd
}

func (a *app) gen(ctx context.Context, out io.Writer, count int) error {
	var opts []snowflake.Option
	if a.cfg.DualLane {
		opts = append(opts, snowflake.WithDualLane())
	}

	if a.cfg.Registry.Kind == config.RegistryNone {
		gen, err := snowflake.NewSyncGenerator(a.cfg.WorkerID, a.cfg.Epoch, opts...)
		if err != nil {
			return err
		}
		return a.emit(ctx, out, gen, gen.WorkerID(), count)
	}

	store, closeStore, err := openStore(ctx, a.cfg.Registry, a.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	owner := a.cfg.Registry.Owner
	if owner == "" {
		owner = defaultOwner()
	}
	gen, lease, err := registry.Acquire(ctx, store, owner, a.cfg.Epoch, opts...)
	if err != nil {
		return fmt.Errorf("acquire worker id: %w", err)
	}
	a.logger.Info("leased worker id", zap.Uint16("worker_id", lease.WorkerID), zap.String("owner", owner))

	kctx, stop := context.WithCancel(ctx)
	keeper := registry.NewKeeper(store, lease,
		registry.WithInterval(a.cfg.Registry.Heartbeat),
		registry.WithLogger(a.logger),
		registry.WithOnLost(func(registry.Lease, error) { stop() }),
	)
	done := make(chan error, 1)
	go func() { done <- keeper.Run(kctx) }()

	genErr := a.emit(kctx, out, gen, lease.WorkerID, count)
	stop()
	if err := <-done; err != nil {
		return errors.Join(genErr, err)
	}
	return genErr
}

// emit writes count IDs from src, stopping early if ctx ends.
func (a *app) emit(ctx context.Context, out io.Writer, src snowflake.Source, workerID uint16, count int) error {
	reg := prometheus.NewRegistry()
	src = metrics.Instrument(src, reg, workerID)
	defer a.logStats(reg)

	format := snowflake.Format(a.cfg.Format)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := src.Generate()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, id.Format(format)); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) logStats(reg prometheus.Gatherer) {
	if !a.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	families, err := reg.Gather()
	if err != nil {
		a.logger.Debug("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			}
			a.logger.Debug("generator stats", zap.String("metric", mf.GetName()), zap.Float64("value", v))
		}
	}
}
