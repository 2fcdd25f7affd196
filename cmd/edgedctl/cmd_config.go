package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the agent's whitelisted runtime config",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "List configurable keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		var keys map[string]bool
		if err := app.client.get("/config", &keys); err != nil {
			return err
		}
		if app.jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(keys)
		}
		for k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a whitelisted config key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.client.post("/config", map[string]string{args[0]: args[1]})
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
}
