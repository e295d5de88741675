package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitt-bench/controller/internal/agentrt"
)

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "register this host with a controller and save the issued agent token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireControllerURL(); err != nil {
				return err
			}
			if flagRegisterToken == "" {
				return fmt.Errorf("--token (the register token) is required")
			}
			return runRegister(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&flagRegisterToken, "token", os.Getenv("KITT_REGISTER_TOKEN"), "shared register token issued by the controller operator")
	cmd.Flags().StringVar(&flagAgentName, "name", "", "agent display name (defaults to the host name)")
	cmd.Flags().IntVar(&flagAgentPort, "port", 0, "port this agent's own status endpoint listens on, if any")
	cmd.Flags().BoolVar(&flagIsTestAgent, "test-agent", false, "register as a virtual test agent (no real hardware, simulated runs)")
	return cmd
}

func runRegister(ctx context.Context) error {
	statePath := agentrt.StatePath(flagHome)
	if existing, ok, err := agentrt.LoadState(statePath); err == nil && ok && existing.Token != "" {
		fmt.Printf("already registered as %q (id=%s); remove %s to re-register\n", existing.Name, existing.ID, statePath)
		return nil
	}

	name := flagAgentName
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		} else {
			name = "kitt-agent"
		}
	}

	detector := agentrt.NewHostDetector()
	hw, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect hardware: %w", err)
	}

	client := agentrt.NewControllerClient(flagControllerURL, "")
	resp, err := client.Register(ctx, flagRegisterToken, agentrt.RegisterRequest{
		Name:     name,
		Port:     flagAgentPort,
		Hardware: hw,
		IsTest:   flagIsTestAgent,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("register with controller: %w", err)
	}

	if err := agentrt.SaveState(statePath, agentrt.State{ID: resp.Agent.ID, Name: resp.Agent.Name, Token: resp.Token}); err != nil {
		return fmt.Errorf("save agent state: %w", err)
	}

	fmt.Printf("registered %q as agent %s (fingerprint=%s)\n", resp.Agent.Name, resp.Agent.ID, agentrt.Fingerprint(hw))
	return nil
}
