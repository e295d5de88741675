package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
)

func handleRun(ctx context.Context, client *apiClient, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	agentID := fs.String("agent", "", "agent id to dispatch to (required)")
	model := fs.String("model", "", "model path, relative to the agent's model directory (required)")
	engine := fs.String("engine", "", "engine name, e.g. vllm, tgi, llama_cpp, ollama (required)")
	suite := fs.String("suite", "", "benchmark suite name (required)")
	force := fs.Bool("force", false, "skip preflight checks (test agents only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" || *model == "" || *engine == "" || *suite == "" {
		return errors.New("--agent, --model, --engine and --suite are all required")
	}

	data, err := client.request(ctx, http.MethodPost, "/api/v1/quicktest/", map[string]any{
		"agent_id":   *agentID,
		"model_path": *model,
		"engine":     *engine,
		"suite":      *suite,
		"force":      *force,
	})
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}
