package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edged/edged/pkg/cli"
)

type diagnosticCheckView struct {
	Name   string `json:"name"`
	Ok     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type diagnosticsView struct {
	Checks []diagnosticCheckView `json:"checks"`
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Run self-tests and report the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		var d diagnosticsView
		if err := app.client.get("/diagnostics", &d); err != nil {
			return err
		}
		if app.jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(d)
		}

		t := cli.NewTable("CHECK", "RESULT", "DETAIL")
		for _, c := range d.Checks {
			result := cli.Green("ok")
			if !c.Ok {
				result = cli.Red("fail")
			}
			t.Row(c.Name, result, dash(c.Detail))
		}
		t.Flush()

		for _, c := range d.Checks {
			if !c.Ok {
				return fmt.Errorf("diagnostics: %s failed", c.Name)
			}
		}
		return nil
	},
}
