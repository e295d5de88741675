package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kitt-bench/controller/internal/agentrt"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print this host's registration state and detected hardware",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	state, ok, err := agentrt.LoadState(agentrt.StatePath(flagHome))
	if err != nil {
		return fmt.Errorf("load agent state: %w", err)
	}
	hw, err := agentrt.NewHostDetector().Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect hardware: %w", err)
	}

	out := cmd.OutOrStdout()
	if !ok || state.Token == "" {
		fmt.Fprintln(out, "not registered")
	} else {
		fmt.Fprintf(out, "registered as %q (id=%s)\n", state.Name, state.ID)
	}
	fmt.Fprintf(out, "fingerprint: %s\n", agentrt.Fingerprint(hw))
	fmt.Fprintf(out, "cpu_arch=%s gpu=%q ram_gb=%.1f\n", hw.CPUArch, hw.GPU, hw.RAMGB)
	return nil
}
