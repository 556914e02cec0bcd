package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

var (
	scenarioWorkspaceID   string
	scenarioDescription   string
	scenarioOverridesFile string
	scenarioRename        string
)

var scenarioCmd = &cobra.Command{
	Use:     "scenario",
	Aliases: []string{"sc"},
	Short:   "Manage scenarios within a workspace",
}

var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scenarios of a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		scenarios, err := store.ListScenarios(scenarioWorkspaceID)
		if err != nil {
			return err
		}
		if len(scenarios) == 0 {
			fmt.Println("no scenarios")
			return nil
		}
		for _, sc := range scenarios {
			last := "never run"
			if sc.LastRunAt != nil {
				last = "last run " + sc.LastRunAt.Format("2006-01-02 15:04")
			}
			fmt.Printf("%s  %-30s  %-10s  %s\n", sc.ID, sc.Name, sc.Status, last)
		}
		return nil
	},
}

var scenarioCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a scenario",
	Long: `Creates a scenario. --overrides points at a YAML file whose keys
override the workspace base config for this scenario only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		overrides, err := readConfigFile(scenarioOverridesFile)
		if err != nil {
			return err
		}
		sc, err := store.CreateScenario(scenarioWorkspaceID, args[0], scenarioDescription, overrides)
		if err != nil {
			return err
		}
		fmt.Printf("created scenario %s (%s)\n", sc.Name, sc.ID)
		return nil
	},
}

var scenarioShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one scenario with its overrides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		sc, ok, err := store.GetScenario(scenarioWorkspaceID, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return faults.New(faults.NotFound, "scenario %s not found", args[0])
		}
		return printJSON(struct {
			*workspace.Scenario
			Overrides map[string]interface{} `json:"overrides,omitempty"`
		}{sc, sc.Overrides})
	},
}

var scenarioUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Rename a scenario or replace its description or overrides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		upd := workspace.ScenarioUpdate{}
		if scenarioRename != "" {
			upd.Name = &scenarioRename
		}
		if cmd.Flags().Changed("description") {
			upd.Description = &scenarioDescription
		}
		if scenarioOverridesFile != "" {
			if upd.Overrides, err = readConfigFile(scenarioOverridesFile); err != nil {
				return err
			}
		}
		sc, err := store.UpdateScenario(scenarioWorkspaceID, args[0], upd)
		if err != nil {
			return err
		}
		fmt.Printf("updated scenario %s\n", sc.ID)
		return nil
	},
}

var scenarioDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a scenario and its runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.DeleteScenario(scenarioWorkspaceID, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted scenario %s\n", args[0])
		return nil
	},
}

var scenarioConfigCmd = &cobra.Command{
	Use:   "config [id]",
	Short: "Print the effective (merged) config a run would use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		merged, err := store.MergedConfig(scenarioWorkspaceID, args[0])
		if err != nil {
			return err
		}
		return printJSON(merged)
	},
}

func init() {
	scenarioCmd.PersistentFlags().StringVarP(&scenarioWorkspaceID, "workspace", "w", "", "Workspace id (required)")
	scenarioCmd.MarkPersistentFlagRequired("workspace")

	scenarioCreateCmd.Flags().StringVarP(&scenarioDescription, "description", "d", "", "Scenario description")
	scenarioCreateCmd.Flags().StringVar(&scenarioOverridesFile, "overrides", "", "YAML file with config overrides")
	scenarioUpdateCmd.Flags().StringVar(&scenarioRename, "name", "", "New scenario name")
	scenarioUpdateCmd.Flags().StringVarP(&scenarioDescription, "description", "d", "", "New description")
	scenarioUpdateCmd.Flags().StringVar(&scenarioOverridesFile, "overrides", "", "YAML file replacing the overrides")

	scenarioCmd.AddCommand(scenarioListCmd)
	scenarioCmd.AddCommand(scenarioCreateCmd)
	scenarioCmd.AddCommand(scenarioShowCmd)
	scenarioCmd.AddCommand(scenarioUpdateCmd)
	scenarioCmd.AddCommand(scenarioDeleteCmd)
	scenarioCmd.AddCommand(scenarioConfigCmd)
}
