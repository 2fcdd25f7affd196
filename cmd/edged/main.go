// edged is the IoT edge-device agent: it owns the local container runtime,
// keeps it converged with cloud-supplied target state, and reports health
// and metrics back. See edgedctl for the operator-facing CLI that talks to
// its loopback control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/edged/edged/pkg/agent"
	"github.com/edged/edged/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Println(version.Info())
		return 0
	}

	cfg, err := agent.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "edged: "+err.Error())
		return 1
	}

	orch, err := agent.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "edged: "+err.Error())
		return 1
	}

	if err := orch.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "edged: "+err.Error())
		var runtimeErr *agent.RuntimeError
		if errors.As(err, &runtimeErr) {
			return 2
		}
		return 1
	}
	return 0
}
