package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispatchsync/app"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/mutation"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Create, reroute and complete dispatches",
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Complete routes",
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Submit and complete orders",
}

var orderFlags struct {
	user      string
	latitude  float64
	longitude float64
	weight    float64
	category  string
	image     string
}

func init() {
	dispatchCmd.AddCommand(
		mutationCmd("create", "Plan the pending orders into a new dispatch", cobra.NoArgs,
			func(ctx context.Context, c *mutation.Coordinator, _ []string) (any, error) {
				return c.CreateDispatch(ctx)
			}),
		mutationCmd("reroute", "Regroup the pending orders into the current dispatch", cobra.NoArgs,
			func(ctx context.Context, c *mutation.Coordinator, _ []string) (any, error) {
				return c.RerouteDispatch(ctx)
			}),
		mutationCmd("done <dispatch-id>", "Complete a dispatch whose routes are all completed", cobra.ExactArgs(1),
			func(ctx context.Context, c *mutation.Coordinator, args []string) (any, error) {
				return nil, c.MarkDispatchDone(ctx, args[0])
			}),
	)
	routeCmd.AddCommand(
		mutationCmd("done <route-id>", "Complete a route whose orders are all completed", cobra.ExactArgs(1),
			func(ctx context.Context, c *mutation.Coordinator, args []string) (any, error) {
				return nil, c.MarkRouteDone(ctx, args[0])
			}),
	)
	createOrder := mutationCmd("create", "Submit a pickup order", cobra.NoArgs,
		func(ctx context.Context, c *mutation.Coordinator, _ []string) (any, error) {
			in := backend.OrderInput{
				UserID:    orderFlags.user,
				Latitude:  orderFlags.latitude,
				Longitude: orderFlags.longitude,
				Weight:    orderFlags.weight,
				Category:  orderFlags.category,
			}
			if orderFlags.image != "" {
				f, err := os.Open(orderFlags.image)
				if err != nil {
					return nil, err
				}
				defer f.Close()
				in.Image = &backend.Attachment{
					Filename:    filepath.Base(orderFlags.image),
					ContentType: mime.TypeByExtension(filepath.Ext(orderFlags.image)),
					Data:        f,
				}
			}
			return c.CreateOrder(ctx, in)
		})
	f := createOrder.Flags()
	f.StringVar(&orderFlags.user, "user", "", "customer id")
	f.Float64Var(&orderFlags.latitude, "lat", 0, "pickup latitude")
	f.Float64Var(&orderFlags.longitude, "lon", 0, "pickup longitude")
	f.Float64Var(&orderFlags.weight, "weight", 0, "estimated weight")
	f.StringVar(&orderFlags.category, "category", "", "waste category")
	f.StringVar(&orderFlags.image, "image", "", "photo to attach")
	orderCmd.AddCommand(
		createOrder,
		mutationCmd("done <order-id>", "Mark an in progress order as picked up", cobra.ExactArgs(1),
			func(ctx context.Context, c *mutation.Coordinator, args []string) (any, error) {
				return nil, c.MarkOrderDone(ctx, args[0])
			}),
	)
	rootCmd.AddCommand(dispatchCmd, routeCmd, orderCmd)
}

type mutationFunc func(ctx context.Context, c *mutation.Coordinator, args []string) (any, error)

// mutationCmd runs fn through the coordinator and prints its result as JSON.
func mutationCmd(use, short string, args cobra.PositionalArgs, fn mutationFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return withService(ctx, func(svc *app.Service) error {
				res, err := fn(ctx, svc.Coordinator, args)
				if err != nil {
					return err
				}
				if res == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "ok")
					return nil
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
}
