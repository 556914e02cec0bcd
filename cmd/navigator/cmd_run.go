package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/crzyc98/planwise-navigator-sub000/internal/archive"
	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
)

var (
	runWorkspaceID string
	runResume      bool
	runKeep        int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute and inspect simulation runs",
}

var runStartCmd = &cobra.Command{
	Use:   "start [scenario-id]",
	Short: "Run a scenario to completion, streaming progress to stdout",
	Long: `Runs the scenario's merged config through the simulation engine and
waits for it to finish. Ctrl-C requests cancellation; the engine gets a
grace period before it is killed.`,
	Args: cobra.ExactArgs(1),
	RunE: startRun,
}

func startRun(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	hub := telemetry.NewHub(settings.Telemetry.SubscriberBuffer)
	exec := executor.New(store, hub, archive.NewArchiver(store, nil), settings)

	// Subscribing before Execute means the engine's first lines are not
	// lost; the executor waits briefly for a first subscriber.
	runID := ulid.Make().String()
	sub := hub.Subscribe(runID)
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		lastProgress, lastStage := -1, ""
		for snap := range sub.C() {
			if snap.Progress == lastProgress && snap.CurrentStage == lastStage {
				continue
			}
			lastProgress, lastStage = snap.Progress, snap.CurrentStage
			fmt.Printf("  %3d%%  year %d  %-22s  %.0f ev/s  %.0f MB\n",
				snap.Progress, snap.CurrentYear, snap.CurrentStage,
				snap.EventsPerSecond, snap.MemoryMB)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigc; ok {
			fmt.Fprintln(os.Stderr, "cancelling run...")
			_ = exec.Cancel(runID)
		}
	}()

	run, err := exec.Execute(context.Background(), executor.Request{
		WorkspaceID: runWorkspaceID,
		ScenarioID:  args[0],
		RunID:       runID,
		Resume:      runResume,
	})
	if run == nil {
		// Admission failed; nothing was published for this run id.
		hub.Unsubscribe(sub)
	}
	<-printerDone
	signal.Stop(sigc)
	close(sigc)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %s in %.1fs (%d events)\n",
		run.ID, run.Status, run.DurationSeconds, run.EventsGenerated)
	return nil
}

var runListCmd = &cobra.Command{
	Use:   "list [scenario-id]",
	Short: "List a scenario's archived runs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		runs, err := archive.ListArchivedRuns(store, runWorkspaceID, args[0])
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no archived runs")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("%s  %-10s  %s  %6.1fs  %d events\n",
				run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"),
				run.DurationSeconds, run.EventsGenerated)
		}
		return nil
	},
}

var runShowCmd = &cobra.Command{
	Use:   "show [scenario-id] [run-id]",
	Short: "Print one archived run record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		run, err := archive.ReadMetadata(store.RunDir(runWorkspaceID, args[0], args[1]))
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

var runPruneCmd = &cobra.Command{
	Use:   "prune [scenario-id]",
	Short: "Trim a scenario's archived runs to the retention cap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		keep := runKeep
		if !cmd.Flags().Changed("keep") {
			keep = settings.Runs.MaxRunsPerScenario
		}
		report, err := archive.Prune(store, runWorkspaceID, args[0], keep)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d run(s), freed %s\n", report.RemovedCount, byteCount(report.BytesFreed))
		for _, failure := range report.Failures {
			fmt.Fprintf(os.Stderr, "warning: %s\n", failure)
		}
		return nil
	},
}

func init() {
	runCmd.PersistentFlags().StringVarP(&runWorkspaceID, "workspace", "w", "", "Workspace id (required)")
	runCmd.MarkPersistentFlagRequired("workspace")

	runStartCmd.Flags().BoolVar(&runResume, "resume", false, "Ask the engine to resume from its checkpoint")
	runPruneCmd.Flags().IntVar(&runKeep, "keep", 0, "Runs to keep (default: configured retention cap)")

	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runShowCmd)
	runCmd.AddCommand(runPruneCmd)
}
