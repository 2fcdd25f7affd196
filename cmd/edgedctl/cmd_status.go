package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edged/edged/pkg/cli"
)

type statusView struct {
	UUID             string `json:"uuid"`
	DeviceID         string `json:"device_id,omitempty"`
	Provisioned      bool   `json:"provisioned"`
	TargetVersion    string `json:"target_version"`
	ConnectionHealth string `json:"connection_health"`
	AppCount         int    `json:"app_count"`
	ServiceCount     int    `json:"service_count"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show identity, target version, and connection health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var s statusView
		if err := app.client.get("/status", &s); err != nil {
			return err
		}
		if app.jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(s)
		}

		fmt.Printf("Device UUID: %s\n", cli.Bold(s.UUID))
		if s.DeviceID != "" {
			fmt.Printf("Device ID: %s\n", s.DeviceID)
		}
		fmt.Printf("Provisioned: %s\n", formatBool(s.Provisioned))
		fmt.Printf("Target version: %s\n", dash(s.TargetVersion))
		fmt.Printf("Connection health: %s\n", formatHealth(s.ConnectionHealth))
		fmt.Printf("Apps: %d, Services: %d\n", s.AppCount, s.ServiceCount)
		return nil
	},
}

func formatBool(b bool) string {
	if b {
		return cli.Green("yes")
	}
	return cli.Yellow("no")
}

func formatHealth(h string) string {
	switch h {
	case "online":
		return cli.Green(h)
	case "degraded":
		return cli.Yellow(h)
	default:
		return cli.Red(dash(h))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
