package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitt-bench/controller/internal/agentrt"
)

// newPreflightCmd checks the three things a quick test actually needs
// before it's dispatched here: a reachable Docker daemon, a writable model
// cache directory, and at least a detected CPU (GPU is reported but not
// required, matching spec.md §4.7's CPU-only agent support).
func newPreflightCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "check this host is ready to run quick tests (docker, model storage, hardware)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreflight(cmd)
		},
	}
	cmd.Flags().StringVar(&flagModelDir, "model-dir", "", "model cache root (defaults to <home>/models)")
	return cmd
}

func runPreflight(cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	failed := false

	hw, err := agentrt.NewHostDetector().Detect(ctx)
	if err != nil {
		fmt.Fprintf(out, "[FAIL] hardware detection: %v\n", err)
		failed = true
	} else {
		fmt.Fprintf(out, "[ OK ] hardware: %s\n", agentrt.Fingerprint(hw))
	}

	runner, err := agentrt.NewDockerRunner()
	if err != nil {
		fmt.Fprintf(out, "[FAIL] docker client: %v\n", err)
		failed = true
	} else if err := runner.Ping(ctx); err != nil {
		fmt.Fprintf(out, "[FAIL] docker daemon: %v\n", err)
		failed = true
	} else {
		fmt.Fprintln(out, "[ OK ] docker daemon reachable")
	}

	modelDir := flagModelDir
	if modelDir == "" {
		modelDir = flagHome + "/models"
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		fmt.Fprintf(out, "[FAIL] model directory %s: %v\n", modelDir, err)
		failed = true
	} else if probe, err := os.CreateTemp(modelDir, ".kitt-preflight-*"); err != nil {
		fmt.Fprintf(out, "[FAIL] model directory %s not writable: %v\n", modelDir, err)
		failed = true
	} else {
		probe.Close()
		_ = os.Remove(probe.Name())
		fmt.Fprintf(out, "[ OK ] model directory %s writable\n", modelDir)
	}

	if failed {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}
