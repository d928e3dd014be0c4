// Package cli provides the docfold command-line interface: the API
// server (`serve`), the stage workers (`work`) and build inspection
// (`version`). Configuration is shared across commands and loaded from
// files, .env and DOCFOLD_* environment variables.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docfold/docfold/version"
)

// cfgFile holds the --config flag value. Empty means the standard
// search paths are used.
var cfgFile string

// RootCmd is the docfold entry command.
var RootCmd = &cobra.Command{
	Use:   "docfold",
	Short: "intelligent document processing platform",
	Long: `docfold processes uploaded documents through OCR, LLM field
extraction, validation and audit gating, then delivers the results to
configured webhook or ERP targets.

Run the API server with "docfold serve" and the stage workers with
"docfold work". Both read the same configuration.`,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, ~/.docfold, /etc/docfold)")
	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build and dependency information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.GetBuildInfo()
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
