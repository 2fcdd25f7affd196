// edgedctl is the operator-facing CLI for edged: a thin client over its
// loopback control API (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edged/edged/pkg/version"
)

// App holds CLI state shared across all commands.
type App struct {
	addr       string
	jsonOutput bool
	client     *apiClient
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "edgedctl",
	Short:         "Control a local edged agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `edgedctl talks to a local edged agent's loopback control API.

Examples:
  edgedctl status
  edgedctl services list
  edgedctl services start svc-1
  edgedctl provision
  edgedctl config set log_level debug`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		app.client = newAPIClient(app.addr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&app.addr, "addr", "http://127.0.0.1:48484", "edged control API address")
	rootCmd.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "JSON output")

	rootCmd.AddCommand(
		statusCmd,
		diagnosticsCmd,
		servicesCmd,
		appsCmd,
		provisionCmd,
		deprovisionCmd,
		factoryResetCmd,
		configCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version.Info())
			},
		},
	)
}
