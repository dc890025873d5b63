package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispatchsync/app"
	"github.com/kilianp07/dispatchsync/core/mutation/audit"
	"github.com/kilianp07/dispatchsync/pkg/export"
)

var exportFlags struct {
	format    string
	operation string
	target    string
	outcome   string
	since     time.Duration
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect the mutation audit log",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write audit records as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.format, "format", "json", "json or csv")
	f.StringVar(&exportFlags.operation, "operation", "", "only this operation")
	f.StringVar(&exportFlags.target, "target", "", "only this target id")
	f.StringVar(&exportFlags.outcome, "outcome", "", "only this outcome")
	f.DurationVar(&exportFlags.since, "since", 0, "only records younger than this")
	logCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(logCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	write := export.WriteJSON
	switch exportFlags.format {
	case "json":
	case "csv":
		write = export.WriteCSV
	default:
		return fmt.Errorf("unknown format %q", exportFlags.format)
	}
	ctx, stop := signalContext()
	defer stop()
	return withService(ctx, func(svc *app.Service) error {
		if svc.Audit == nil {
			return errors.New("audit log is disabled")
		}
		q := audit.Query{
			Operation: exportFlags.operation,
			TargetID:  exportFlags.target,
			Outcome:   exportFlags.outcome,
		}
		if exportFlags.since > 0 {
			q.Start = time.Now().Add(-exportFlags.since)
		}
		records, err := svc.Audit.Query(ctx, q)
		if err != nil {
			return err
		}
		return write(cmd.OutOrStdout(), records)
	})
}
