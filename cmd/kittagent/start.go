package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitt-bench/controller/internal/agentrt"
	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/config"
	"github.com/kitt-bench/controller/internal/domain"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the heartbeat loop: report telemetry and run dispatched quick tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireControllerURL(); err != nil {
				return err
			}
			return runStart(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&flagModelDir, "model-dir", "", "model cache root (defaults to <home>/models)")
	return cmd
}

var flagModelDir string

// agentDaemon owns the long-running state a single heartbeat loop needs:
// its identity, the controller client, hardware/container collaborators,
// and the engine registry used to resolve a run_test command's image.
type agentDaemon struct {
	state    agentrt.State
	client   *agentrt.ControllerClient
	detector agentrt.Detector
	runner   agentrt.Runner
	engines  *catalog.EngineRegistry
	modelDir string

	// lastIntervalS caches the controller's most recently reported poll
	// interval so a transient heartbeat error doesn't reset the loop back
	// to the 30s default.
	lastIntervalS int

	// settings mirrors the agent's current settings as of the last
	// successful heartbeat (e.g. kitt_image), consulted when a command is
	// dispatched rather than threaded through every call.
	settings map[string]string
}

func runStart(ctx context.Context) error {
	statePath := agentrt.StatePath(flagHome)
	state, ok, err := agentrt.LoadState(statePath)
	if err != nil {
		return fmt.Errorf("load agent state: %w", err)
	}
	if !ok || state.Token == "" {
		return fmt.Errorf("not registered yet; run %q first", "kittagent register")
	}

	modelDir := flagModelDir
	if modelDir == "" {
		modelDir = fmt.Sprintf("%s/models", config.New().Home)
		if flagHome != "" {
			modelDir = flagHome + "/models"
		}
	}

	runner, err := agentrt.NewDockerRunner()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}

	d := &agentDaemon{
		state:    state,
		client:   agentrt.NewControllerClient(flagControllerURL, state.Token),
		detector: agentrt.NewHostDetector(),
		runner:   runner,
		engines:  catalog.NewEngineRegistry(),
		modelDir: modelDir,
	}
	return d.loop(ctx)
}

// loop heartbeats until ctx is cancelled, sleeping for the interval the
// controller returns (spec §4.7), with 0.5-1.5x jitter so a fleet of agents
// restarted together doesn't thunder the controller every interval.
func (d *agentDaemon) loop(ctx context.Context) error {
	started := time.Now()
	interval := 30 * time.Second

	for {
		if err := d.beat(ctx, started); err != nil {
			if err == agentrt.ErrNotRegistered {
				fmt.Fprintln(os.Stderr, "kittagent: controller no longer recognizes this agent; re-run 'kittagent register'")
				return err
			}
			fmt.Fprintf(os.Stderr, "kittagent: heartbeat failed: %v\n", err)
		} else if d.lastIntervalS > 0 {
			interval = time.Duration(d.lastIntervalS) * time.Second
		}

		jitter := 0.5 + rand.Float64()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(float64(interval) * jitter)):
		}
	}
}

func (d *agentDaemon) beat(ctx context.Context, startedAt time.Time) error {
	hw, err := d.detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect hardware: %w", err)
	}

	resp, err := d.client.Heartbeat(ctx, d.state.ID, agentrt.HeartbeatRequest{
		Status:        domain.AgentOnline,
		Hardware:      hw,
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
	})
	if err != nil {
		return err
	}
	d.lastIntervalS = resp.IntervalS
	d.settings = resp.Settings

	for _, cmd := range resp.Commands {
		if err := d.dispatch(ctx, cmd); err != nil {
			fmt.Fprintf(os.Stderr, "kittagent: command %s (%s) failed: %v\n", cmd.Kind, cmd.ID, err)
		}
	}
	return nil
}
