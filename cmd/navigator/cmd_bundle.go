package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crzyc98/planwise-navigator-sub000/internal/bundle"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
)

var (
	bundleOutDir     string
	bundleResolution string
	bundleNewName    string
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Export and import workspace bundles",
	Long: `Bundles are zip archives of a whole workspace: scenarios, configs,
result databases and archived runs, with a manifest and checksum. They
move workspaces between machines and installations.`,
}

func openBundler() (*bundle.Bundler, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	return bundle.New(store, settings), nil
}

var bundleExportCmd = &cobra.Command{
	Use:   "export [workspace-id...]",
	Short: "Export one or more workspaces to bundle files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundler, err := openBundler()
		if err != nil {
			return err
		}
		outDir := bundleOutDir
		if outDir == "" {
			outDir = filepath.Join(settings.WorkspacesRoot, "exports")
		}

		if len(args) == 1 {
			res, err := bundler.Export(args[0], outDir)
			if err != nil {
				return err
			}
			fmt.Printf("exported %s (%s, %d files)\n", res.Path, byteCount(res.SizeBytes), res.FileCount)
			return nil
		}

		op, err := bundler.BulkExport(context.Background(), args, outDir)
		if err != nil {
			return err
		}
		printOperation(op)
		return nil
	},
}

var bundleValidateCmd = &cobra.Command{
	Use:   "validate [bundle-file]",
	Short: "Inspect a bundle without importing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundler, err := openBundler()
		if err != nil {
			return err
		}
		report, err := bundler.Validate(args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var bundleImportCmd = &cobra.Command{
	Use:   "import [bundle-file...]",
	Short: "Import one or more bundles",
	Long: `Imports bundles into the workspaces root. Name collisions fail unless
--resolution picks rename, replace, or skip; --name forces a specific
name for a single-bundle rename.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundler, err := openBundler()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			res, err := bundler.Import(args[0], bundleResolution, bundleNewName)
			if err != nil {
				return err
			}
			fmt.Printf("imported %q (%s, %d scenario(s))\n", res.Name, res.Status, res.ScenarioCount)
			for _, warning := range res.Warnings {
				fmt.Printf("  warning: %s\n", warning)
			}
			return nil
		}

		if bundleNewName != "" {
			return faults.New(faults.Validation, "--name applies to a single bundle only")
		}
		op, err := bundler.BulkImport(context.Background(), args, bundleResolution)
		if err != nil {
			return err
		}
		printOperation(op)
		return nil
	},
}

func printOperation(op *bundle.Operation) {
	for _, item := range op.Items {
		line := fmt.Sprintf("  %-40s  %s", item.Target, item.Status)
		if item.Detail != "" {
			line += "  (" + item.Detail + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("operation %s: %d item(s)\n", op.ID, len(op.Items))
}

func init() {
	bundleExportCmd.Flags().StringVarP(&bundleOutDir, "out", "o", "", "Directory for bundle files (default: <root>/exports)")
	bundleImportCmd.Flags().StringVar(&bundleResolution, "resolution", "", "Name conflict resolution: rename, replace, or skip")
	bundleImportCmd.Flags().StringVar(&bundleNewName, "name", "", "Import under this name (single bundle)")

	bundleCmd.AddCommand(bundleExportCmd)
	bundleCmd.AddCommand(bundleValidateCmd)
	bundleCmd.AddCommand(bundleImportCmd)
}
