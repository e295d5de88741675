package main

import (
	"bufio"
	"context"
	"fmt"

	"github.com/kitt-bench/controller/internal/agentrt"
	"github.com/kitt-bench/controller/internal/domain"
)

// dispatch executes one controller-issued command (spec §4.7's run_test,
// stop_container, cleanup_storage). run_test and stop_container return as
// soon as the container is started/stopped; the container's output is
// streamed back asynchronously via tailLogs.
func (d *agentDaemon) dispatch(ctx context.Context, cmd domain.PendingCommand) error {
	switch cmd.Kind {
	case domain.CommandRunTest:
		return d.runTest(ctx, cmd)
	case domain.CommandStopContainer:
		return d.runner.Stop(ctx, cmd.TestID)
	case domain.CommandCleanupStorage:
		return d.cleanupStorage(ctx, cmd)
	default:
		return fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func (d *agentDaemon) runTest(ctx context.Context, cmd domain.PendingCommand) error {
	engineKey := payloadString(cmd.Payload, "engine")
	engine, ok := d.engines.Get(engineKey)
	if !ok {
		err := fmt.Errorf("unknown engine %q", engineKey)
		_ = d.client.ReportStatus(ctx, cmd.TestID, domain.QuickTestFailed, err.Error(), "")
		return err
	}

	modelPath, err := agentrt.ResolveModelPath(d.modelDir, payloadString(cmd.Payload, "model_path"))
	if err != nil {
		_ = d.client.ReportStatus(ctx, cmd.TestID, domain.QuickTestFailed, err.Error(), "")
		return err
	}

	image := engine.ResolveImage(payloadString(cmd.Payload, "tag"))
	if override := d.settings[domain.SettingKittImage]; override != "" {
		image = override
	}

	if err := d.client.ReportStatus(ctx, cmd.TestID, domain.QuickTestDispatched, "", ""); err != nil {
		return fmt.Errorf("report dispatched: %w", err)
	}

	if err := d.runner.Pull(ctx, image); err != nil {
		_ = d.client.ReportStatus(ctx, cmd.TestID, domain.QuickTestFailed, err.Error(), "")
		return err
	}

	spec := agentrt.RunSpec{
		QuickTestID: cmd.TestID,
		Image:       image,
		ModelDir:    modelPath,
		ModelMount:  "/models",
		Port:        engine.DefaultPort,
		GPUs:        true,
	}
	if _, err := d.runner.Run(ctx, spec); err != nil {
		_ = d.client.ReportStatus(ctx, cmd.TestID, domain.QuickTestFailed, err.Error(), "")
		return err
	}

	if err := d.client.ReportStatus(ctx, cmd.TestID, domain.QuickTestRunning, "", ""); err != nil {
		return fmt.Errorf("report running: %w", err)
	}

	go d.tailLogs(context.Background(), cmd.TestID)
	return nil
}

// tailLogs streams container output back to the controller one line at a
// time for the run's duration; failures here don't fail the quick test
// itself, since status is reported separately by the engine container.
func (d *agentDaemon) tailLogs(ctx context.Context, quickTestID string) {
	logs, err := d.runner.Tail(ctx, quickTestID)
	if err != nil {
		return
	}
	defer logs.Close()

	scanner := bufio.NewScanner(logs)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		_ = d.client.AppendLog(ctx, quickTestID, scanner.Text())
	}
}

func (d *agentDaemon) cleanupStorage(ctx context.Context, cmd domain.PendingCommand) error {
	if cmd.TestID == "" {
		return nil
	}
	if err := d.runner.Stop(ctx, cmd.TestID); err != nil {
		return fmt.Errorf("cleanup: stop container: %w", err)
	}
	return nil
}
