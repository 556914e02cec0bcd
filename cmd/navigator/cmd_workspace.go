package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

var (
	workspaceDescription string
	workspaceConfigFile  string
	workspaceRename      string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage simulation workspaces",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		summaries, err := store.ListWorkspaces()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("no workspaces")
			return nil
		}
		for _, ws := range summaries {
			fmt.Printf("%s  %-30s  %d scenario(s)  %s\n",
				ws.ID, ws.Name, ws.ScenarioCount, byteCount(ws.StorageUsedBytes))
		}
		return nil
	},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a workspace",
	Long: `Creates a workspace. --config-file points at a YAML file used as the
base simulation config; without it the configured default applies.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		baseConfig, err := readConfigFile(workspaceConfigFile)
		if err != nil {
			return err
		}
		ws, err := store.CreateWorkspace(args[0], workspaceDescription, baseConfig)
		if err != nil {
			return err
		}
		fmt.Printf("created workspace %s (%s)\n", ws.Name, ws.ID)
		return nil
	},
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one workspace with its base config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		ws, ok, err := store.GetWorkspace(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return faults.New(faults.NotFound, "workspace %s not found", args[0])
		}
		return printJSON(struct {
			*workspace.Workspace
			BaseConfig map[string]interface{} `json:"base_config,omitempty"`
		}{ws, ws.BaseConfig})
	},
}

var workspaceUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Rename a workspace or replace its description or base config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		upd := workspace.WorkspaceUpdate{}
		if workspaceRename != "" {
			upd.Name = &workspaceRename
		}
		if cmd.Flags().Changed("description") {
			upd.Description = &workspaceDescription
		}
		if workspaceConfigFile != "" {
			if upd.BaseConfig, err = readConfigFile(workspaceConfigFile); err != nil {
				return err
			}
		}
		ws, err := store.UpdateWorkspace(args[0], upd)
		if err != nil {
			return err
		}
		fmt.Printf("updated workspace %s\n", ws.ID)
		return nil
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a workspace and everything under it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.DeleteWorkspace(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted workspace %s\n", args[0])
		return nil
	},
}

// readConfigFile loads a YAML config document, or returns nil for "".
func readConfigFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to read %s", path)
	}
	var cfg map[string]interface{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, faults.Wrap(faults.Validation, err, "invalid config file %s", path)
	}
	return cfg, nil
}

func byteCount(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	workspaceCreateCmd.Flags().StringVarP(&workspaceDescription, "description", "d", "", "Workspace description")
	workspaceCreateCmd.Flags().StringVar(&workspaceConfigFile, "config-file", "", "YAML file with the base simulation config")
	workspaceUpdateCmd.Flags().StringVar(&workspaceRename, "name", "", "New workspace name")
	workspaceUpdateCmd.Flags().StringVarP(&workspaceDescription, "description", "d", "", "New description")
	workspaceUpdateCmd.Flags().StringVar(&workspaceConfigFile, "config-file", "", "YAML file replacing the base config")

	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceShowCmd)
	workspaceCmd.AddCommand(workspaceUpdateCmd)
	workspaceCmd.AddCommand(workspaceDeleteCmd)
}
