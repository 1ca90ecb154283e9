package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/pipeline-cli/internal/resilience"
	"github.com/sells-group/pipeline-cli/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Rescore the open deal book on a schedule",
	Long: `Walk every open deal, recompute its confidence score against the
current clock, and bulk-persist the results. Without --once the sweep
repeats on the configured interval until interrupted.`,
	RunE: runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.Bool("once", false, "run a single sweep pass and exit")
	f.Int("interval", 0, "override sweep interval in seconds")
	f.Int("concurrency", 0, "override scoring concurrency")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	once, _ := cmd.Flags().GetBool("once")
	intervalSecs, _ := cmd.Flags().GetInt("interval")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	if intervalSecs <= 0 {
		intervalSecs = cfg.Sweep.IntervalSecs
	}
	if concurrency <= 0 {
		concurrency = cfg.Sweep.Concurrency
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	sweeper := sweep.New(st, engine, sweep.Options{
		Interval:    time.Duration(intervalSecs) * time.Second,
		Concurrency: concurrency,
		RatePerSec:  cfg.Sweep.RatePerSec,
		Retry: resilience.FromRetryConfig(
			cfg.Sweep.RetryAttempts,
			cfg.Sweep.RetryBackoffMs,
			cfg.Sweep.RetryMaxBackoffMs,
			0, -1,
		),
	})

	if once {
		res, err := sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Swept %d deals: %d scored, %d failed, %d saved in %s\n",
			res.Deals, res.Scored, res.Failed, res.Saved, res.Duration.Round(time.Millisecond))
		return nil
	}

	sweeper.Run(ctx)
	return nil
}
