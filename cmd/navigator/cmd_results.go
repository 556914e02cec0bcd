package main

import (
	"github.com/spf13/cobra"

	"github.com/crzyc98/planwise-navigator-sub000/internal/results"
)

var (
	resultsWorkspaceID string
	compareBaseline    string
	compareScenarios   []string
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query simulation results",
	Long: `Reads the scenario's result database (read-only) and prints the
requested aggregation as JSON. Refuses while the scenario is running.`,
}

// withResults opens the scenario's results, runs fn, and prints what it
// returns.
func withResults(scenarioID string, fn func(*results.ScenarioResults) (interface{}, error)) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	reader := results.NewReader(store, settings)
	res, err := reader.Open(resultsWorkspaceID, scenarioID)
	if err != nil {
		return err
	}
	defer res.Close()
	out, err := fn(res)
	if err != nil {
		return err
	}
	return printJSON(out)
}

var resultsWorkforceCmd = &cobra.Command{
	Use:   "workforce [scenario-id]",
	Short: "Per-year headcount and compensation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResults(args[0], func(res *results.ScenarioResults) (interface{}, error) {
			return res.WorkforceProgression()
		})
	},
}

var resultsCompensationCmd = &cobra.Command{
	Use:   "compensation [scenario-id]",
	Short: "Compensation aggregates by employment status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResults(args[0], func(res *results.ScenarioResults) (interface{}, error) {
			return res.CompensationByStatus()
		})
	},
}

var resultsEventsCmd = &cobra.Command{
	Use:   "events [scenario-id]",
	Short: "Event counts by type and year",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResults(args[0], func(res *results.ScenarioResults) (interface{}, error) {
			return res.EventTrends()
		})
	},
}

var resultsDCPlanCmd = &cobra.Command{
	Use:   "dc-plan [scenario-id]",
	Short: "Participation, deferral and employer cost by year",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResults(args[0], func(res *results.ScenarioResults) (interface{}, error) {
			return res.DCPlanAggregates()
		})
	},
}

var resultsCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare scenarios year by year against a baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		reader := results.NewReader(store, settings)
		cmp, err := reader.Compare(resultsWorkspaceID, compareBaseline, compareScenarios)
		if err != nil {
			return err
		}
		return printJSON(cmp)
	},
}

func init() {
	resultsCmd.PersistentFlags().StringVarP(&resultsWorkspaceID, "workspace", "w", "", "Workspace id (required)")
	resultsCmd.MarkPersistentFlagRequired("workspace")

	resultsCompareCmd.Flags().StringVar(&compareBaseline, "baseline", "", "Baseline scenario id (required)")
	resultsCompareCmd.MarkFlagRequired("baseline")
	resultsCompareCmd.Flags().StringSliceVar(&compareScenarios, "scenarios", nil, "Scenario ids to compare against the baseline")

	resultsCmd.AddCommand(resultsWorkforceCmd)
	resultsCmd.AddCommand(resultsCompensationCmd)
	resultsCmd.AddCommand(resultsEventsCmd)
	resultsCmd.AddCommand(resultsDCPlanCmd)
	resultsCmd.AddCommand(resultsCompareCmd)
}
