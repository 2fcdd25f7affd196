package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edged/edged/pkg/cli"
)

type containerInfoView struct {
	ServiceID   string `json:"ServiceID"`
	ContainerID string `json:"ContainerID"`
	Image       string `json:"Image"`
	State       string `json:"State"`
	ExitCode    int    `json:"ExitCode"`
	Error       string `json:"Error,omitempty"`
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Inspect and control services observed by edged",
}

var servicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List observed container services",
	RunE: func(cmd *cobra.Command, args []string) error {
		var infos []containerInfoView
		if err := app.client.get("/services", &infos); err != nil {
			return err
		}
		if app.jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(infos)
		}

		t := cli.NewTable("SERVICE", "STATE", "IMAGE", "CONTAINER")
		for _, i := range infos {
			t.Row(i.ServiceID, formatState(i.State), i.Image, dash(i.ContainerID))
		}
		t.Flush()
		return nil
	},
}

func formatState(s string) string {
	switch s {
	case "running":
		return cli.Green(s)
	case "stopped", "missing":
		return cli.Red(s)
	case "paused":
		return cli.Yellow(s)
	default:
		return s
	}
}

func serviceActionCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <service-id>", action),
		Short: fmt.Sprintf("%s a service", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.client.post(fmt.Sprintf("/services/%s/%s", args[0], action), nil)
		},
	}
}

func init() {
	servicesCmd.AddCommand(
		servicesListCmd,
		serviceActionCmd("start"),
		serviceActionCmd("stop"),
		serviceActionCmd("restart"),
		serviceActionCmd("pause"),
		serviceActionCmd("unpause"),
	)
}
