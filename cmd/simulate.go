package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispatchsync/app"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/infra/logger"
	"github.com/kilianp07/dispatchsync/simulator"
)

var simulateFlags struct {
	speed    float64
	tick     time.Duration
	steps    int
	complete bool
	create   bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive the vehicles of the current dispatch and publish their positions",
	Args:  cobra.NoArgs,
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.Float64Var(&simulateFlags.speed, "speed", simulator.DefaultSpeedKmh, "vehicle speed in km/h")
	f.DurationVar(&simulateFlags.tick, "tick", simulator.DefaultTick, "simulated driving time per step")
	f.IntVar(&simulateFlags.steps, "steps", 0, "number of steps to run without waiting; zero runs in real time until interrupted")
	f.BoolVar(&simulateFlags.complete, "complete", false, "mark orders and routes done on arrival")
	f.BoolVar(&simulateFlags.create, "create", false, "create a dispatch first when none is in progress")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	return withService(ctx, func(svc *app.Service) error {
		if svc.Writer == nil {
			return errors.New("telemetry transport is disabled")
		}
		if simulateFlags.create {
			cur, err := snapshot.LoadAs[*model.Dispatch](ctx, svc.Store, backend.CurrentDispatchKey())
			if err != nil {
				return err
			}
			if cur == nil {
				if _, err := svc.Coordinator.CreateDispatch(ctx); err != nil {
					return err
				}
			}
		}
		sim := simulator.New(svc.Store, svc.Writer, svc.Coordinator, simulator.Options{
			SpeedKmh: simulateFlags.speed,
			Tick:     simulateFlags.tick,
			Complete: simulateFlags.complete,
			Logger:   logger.New("simulator"),
		})
		if simulateFlags.steps <= 0 {
			return sim.Run(ctx)
		}
		for i := 0; i < simulateFlags.steps; i++ {
			if err := sim.Step(ctx, simulateFlags.tick); err != nil {
				return err
			}
		}
		return printProgress(ctx, cmd, svc)
	})
}

func printProgress(ctx context.Context, cmd *cobra.Command, svc *app.Service) error {
	d, err := snapshot.LoadAs[*model.Dispatch](ctx, svc.Store, backend.CurrentDispatchKey())
	if err != nil {
		return err
	}
	if d == nil {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "no dispatch in progress")
		return err
	}
	routes, err := snapshot.LoadAs[[]model.Route](ctx, svc.Store, backend.DispatchRoutesKey(d.ID))
	if err != nil {
		return err
	}
	done := 0
	for _, r := range routes {
		if r.Status == model.RouteCompleted {
			done++
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "dispatch %s: %d/%d routes completed\n", d.ID, done, len(routes))
	return err
}
