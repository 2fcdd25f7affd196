package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Control every service within an app at once",
}

func appActionCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <app-id>", action),
		Short: fmt.Sprintf("%s every service in an app", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.client.post(fmt.Sprintf("/apps/%s/%s", args[0], action), nil)
		},
	}
}

func init() {
	appsCmd.AddCommand(
		appActionCmd("start"),
		appActionCmd("stop"),
		appActionCmd("restart"),
	)
}
