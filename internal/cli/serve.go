package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bibliokit/circulation-go/circulation/engine"
	"github.com/bibliokit/circulation-go/circulation/notify"
	"github.com/bibliokit/circulation-go/circulation/postgresengine"
	"github.com/bibliokit/circulation-go/circulation/scheduler"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	SMTPAddr           string
	EnableScheduler    bool
	ExpirationInterval time.Duration
	OverdueCheckTime   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lifecycle service",
		Long: `Run the circulation lifecycle service: connects to Postgres, wires the
engine, and (when enabled) starts the sweep scheduler.

The scheduler can also be enabled with ENABLE_SCHEDULER=true.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SMTPAddr, "smtp-addr", notify.DefaultSMTPAddr, "SMTP relay address for notifications")
	cmd.Flags().BoolVar(&opts.EnableScheduler, "enable-scheduler", false, "run the periodic sweeps")
	cmd.Flags().DurationVar(&opts.ExpirationInterval, "expiration-interval", scheduler.DefaultExpirationInterval, "how often expired reservations are swept")
	cmd.Flags().StringVar(&opts.OverdueCheckTime, "overdue-check-time", scheduler.DefaultOverdueCheckTime, "daily overdue sweep time (HH:MM)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
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

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if opts.EnableScheduler || os.Getenv("ENABLE_SCHEDULER") == "true" {
		sched, schedErr := scheduler.New(eng,
			scheduler.WithExpirationInterval(opts.ExpirationInterval),
			scheduler.WithOverdueCheckTime(opts.OverdueCheckTime),
			scheduler.WithLogger(logger),
		)
		if schedErr != nil {
			return fmt.Errorf("creating scheduler failed: %w", schedErr)
		}

		sched.Start(ctx)
		defer sched.Stop()

		logger.Info("scheduler started",
			"expiration_interval", opts.ExpirationInterval,
			"overdue_check_time", opts.OverdueCheckTime,
		)
	} else {
		logger.Info("scheduler disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	fmt.Fprintln(cmd.OutOrStdout(), "Circulation service running. Press Ctrl-C to stop.")

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	return nil
}

// newPGXPool builds a pgx pool with the service's connection tuning.
func newPGXPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	const maxConnections = int32(50)
	const minConnections = int32(2)
	const maxConnLifetime = time.Hour
	const maxConnIdleTime = time.Minute * 5
	const healthCheckPeriod = time.Minute
	const connectTimeout = time.Second * 5

	dbConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config failed: %w", err)
	}

	dbConfig.MaxConns = maxConnections
	dbConfig.MinConns = minConnections
	dbConfig.MaxConnLifetime = maxConnLifetime
	dbConfig.MaxConnIdleTime = maxConnIdleTime
	dbConfig.HealthCheckPeriod = healthCheckPeriod
	dbConfig.ConnConfig.ConnectTimeout = connectTimeout

	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to database failed: %w", err)
	}

	return pool, nil
}
