package cli

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/bibliokit/circulation-go/circulation/engine"
	"github.com/bibliokit/circulation-go/circulation/notify"
	"github.com/bibliokit/circulation-go/circulation/postgresengine"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	SMTPAddr string
}

// sweepReport is the command's output payload.
type sweepReport struct {
	Sweep     string `json:"sweep"`
	Processed int    `json:"processed"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep <expired|overdue|reminders>",
		Short: "Run one sweep on demand",
		Long: `Run a single sweep immediately, outside the scheduler:

  expired    move active reservations past their expiration date to expired
  overdue    move active borrowings past their due date to overdue
  reminders  mail a reminder for every borrowing already marked overdue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.SMTPAddr, "smtp-addr", notify.DefaultSMTPAddr, "SMTP relay address for notifications")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command, which string) error {
	logger := newLogger(opts.RootOptions)

	pool, err := newPGXPool(cmd.Context(), opts.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := postgresengine.NewStoreFromPGXPool(pool, postgresengine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating entity store failed: %w", err)
	}

	eng := engine.New(store,
		engine.WithNotifier(notify.NewSMTPNotifier(notify.WithAddr(opts.SMTPAddr))),
		engine.WithDirectory(store),
		engine.WithLogger(logger),
	)

	ctx := cmd.Context()
	now := time.Now().UTC()

	var result engine.SweepResult

	switch which {
	case "expired":
		result, err = eng.ExpireReservationsSweep(ctx, now)
	case "overdue":
		result, err = eng.MarkOverdueSweep(ctx, now)
	case "reminders":
		result, err = eng.SendOverdueReminders(ctx)
	default:
		return fmt.Errorf("unknown sweep %q: must be expired, overdue or reminders", which)
	}

	if err != nil {
		return fmt.Errorf("sweep %s failed: %w", which, err)
	}

	return printSweepReport(cmd, opts.Format, sweepReport{Sweep: which, Processed: result.Processed})
}

func printSweepReport(cmd *cobra.Command, format string, report sweepReport) error {
	if format == "json" {
		out, err := jsoniter.ConfigFastest.Marshal(report)
		if err != nil {
			return fmt.Errorf("encoding report failed: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sweep %s processed %d record(s).\n", report.Sweep, report.Processed)

	return nil
}
