package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crzyc98/planwise-navigator-sub000/internal/archive"
	"github.com/crzyc98/planwise-navigator-sub000/internal/batch"
	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
)

var (
	batchWorkspaceID  string
	batchScenarios    []string
	batchParallel     bool
	batchExportFormat string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run several scenarios of a workspace as one job",
	Long: `Runs the named scenarios (or all of them) sequentially or with bounded
parallelism. The job fails if any member fails; remaining members still
run. Ctrl-C cancels members that have not started and terminates the
ones in flight.`,
	RunE: runBatch,
}

func runBatch(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	hub := telemetry.NewHub(settings.Telemetry.SubscriberBuffer)
	exec := executor.New(store, hub, archive.NewArchiver(store, nil), settings)
	sched := batch.NewScheduler(exec, store, hub, settings)

	job, err := sched.Create(batchWorkspaceID, batchScenarios, batchParallel, batchExportFormat)
	if err != nil {
		return err
	}
	mode := "sequentially"
	if job.Parallel {
		mode = "in parallel"
	}
	fmt.Printf("batch %s: running %d scenario(s) %s\n", job.ID, len(job.Members), mode)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigc; ok {
			fmt.Fprintln(os.Stderr, "cancelling batch...")
			_ = sched.Cancel(job.ID)
		}
	}()

	final, err := sched.Run(context.Background(), job.ID)
	signal.Stop(sigc)
	close(sigc)
	if err != nil {
		return err
	}

	for _, m := range final.Members {
		line := fmt.Sprintf("  %-30s  %s", m.ScenarioName, m.Status)
		if m.Error != "" {
			line += "  (" + m.Error + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("batch %s: %s\n", final.ID, final.Status)
	if final.Status != batch.StatusCompleted {
		return fmt.Errorf("batch %s %s", final.ID, final.Status)
	}
	return nil
}

func init() {
	batchCmd.Flags().StringVarP(&batchWorkspaceID, "workspace", "w", "", "Workspace id (required)")
	batchCmd.MarkFlagRequired("workspace")
	batchCmd.Flags().StringSliceVar(&batchScenarios, "scenarios", nil, "Scenario ids to run (default: all)")
	batchCmd.Flags().BoolVar(&batchParallel, "parallel", false, "Run members concurrently up to the configured cap")
	batchCmd.Flags().StringVar(&batchExportFormat, "export-format", "", "Record a requested export format on the job")
}
