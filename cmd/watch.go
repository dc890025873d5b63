package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispatchsync/app"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/telemetry"
	"github.com/kilianp07/dispatchsync/core/view"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the dispatch board every time it changes",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var publishFlags struct {
	vehicle   string
	latitude  float64
	longitude float64
	load      float64
	interval  time.Duration
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Report a vehicle position on the telemetry transport",
	Args:  cobra.NoArgs,
	RunE:  runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishFlags.vehicle, "vehicle", "", "vehicle id")
	f.Float64Var(&publishFlags.latitude, "lat", 0, "latitude")
	f.Float64Var(&publishFlags.longitude, "lon", 0, "longitude")
	f.Float64Var(&publishFlags.load, "load", 0, "current load")
	f.DurationVar(&publishFlags.interval, "interval", 0, "repeat period; zero publishes once")
	_ = publishCmd.MarkFlagRequired("vehicle")
	rootCmd.AddCommand(watchCmd, publishCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	return withService(ctx, func(svc *app.Service) error {
		v := view.New(ctx, svc.Store, svc.Channel, nil)
		defer v.Close()
		enc := json.NewEncoder(cmd.OutOrStdout())
		b, err := view.NewBoard(v, view.BoardOptions{
			OnChange: func(b projection.Board) { _ = enc.Encode(b) },
		})
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-b.Done():
		}
		return nil
	})
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	pos := model.Position{Latitude: publishFlags.latitude, Longitude: publishFlags.longitude}
	if err := pos.Validate(); err != nil {
		return err
	}
	return withService(ctx, func(svc *app.Service) error {
		if svc.Writer == nil {
			return fmt.Errorf("telemetry transport is disabled")
		}
		p := &telemetry.Publisher{
			VehicleID: publishFlags.vehicle,
			Interval:  publishFlags.interval,
			Writer:    svc.Writer,
			Read: func(ctx context.Context) (model.TelemetrySample, error) {
				return model.TelemetrySample{Latitude: pos.Latitude, Longitude: pos.Longitude, Load: publishFlags.load}, nil
			},
		}
		if publishFlags.interval <= 0 {
			return p.PublishOnce(ctx)
		}
		return p.Run(ctx)
	})
}
