// Command kittagent is the per-host benchmark agent daemon (spec §4.7): it
// registers with a controller, then loops heartbeating hardware/storage
// telemetry and running whatever commands the controller dispatches back.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitt-bench/controller/internal/config"
)

// version is the agent build version, overridden at link time in release
// builds; "dev" is correct for a local build.
var version = "dev"

var (
	flagControllerURL string
	flagHome          string
	flagRegisterToken string
	flagAgentName     string
	flagAgentPort     int
	flagIsTestAgent   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kittagent:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kittagent",
		Short:         "kittagent runs benchmark quick tests on this host for a kitt controller",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaultHome := config.New().Home
	root.PersistentFlags().StringVar(&flagControllerURL, "controller", os.Getenv("KITT_CONTROLLER_URL"), "controller base URL, e.g. http://controller:8080")
	root.PersistentFlags().StringVar(&flagHome, "home", defaultHome, "directory holding this agent's state and model cache")

	root.AddCommand(newRegisterCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newPreflightCmd())
	return root
}

// requireControllerURL validates the one flag register and start need
// (status and preflight are local-only), since cobra has no declarative
// "required unless" check.
func requireControllerURL() error {
	if flagControllerURL == "" {
		return fmt.Errorf("--controller (or KITT_CONTROLLER_URL) is required")
	}
	return nil
}
