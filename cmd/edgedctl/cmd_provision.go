package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run device provisioning now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.client.post("/provision", nil); err != nil {
			return err
		}
		fmt.Println("provisioning complete")
		return nil
	},
}

var deprovisionCmd = &cobra.Command{
	Use:   "deprovision",
	Short: "Deprovision this device from the cloud",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.client.post("/deprovision", nil); err != nil {
			return err
		}
		fmt.Println("deprovisioned")
		return nil
	},
}

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "Wipe identity, target state, and anomaly history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.client.post("/factory-reset", nil); err != nil {
			return err
		}
		fmt.Println("factory reset complete")
		return nil
	},
}
