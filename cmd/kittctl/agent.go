package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// handleAgent covers the controller-facing side of agent administration.
// Lifecycle commands (register, start, stop, preflight, test) run on the
// agent host itself via the kittagent binary (spec §4.7); kittctl only
// talks to the controller's view of an agent.
func handleAgent(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		printAgentUsage()
		return nil
	}
	switch args[0] {
	case "list":
		data, err := client.request(ctx, http.MethodGet, "/api/v1/agents/", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "status":
		return agentStatus(ctx, client, args[1:])
	case "register", "start", "stop", "preflight", "test":
		return fmt.Errorf("'agent %s' runs on the agent host itself: use the kittagent binary (kittagent %s)", args[0], args[0])
	default:
		printAgentUsage()
		return fmt.Errorf("unknown agent subcommand %q", args[0])
	}
}

func printAgentUsage() {
	fmt.Println(`Usage:
  kittctl agent list
  kittctl agent status <agent-id>

Agent lifecycle commands (register, start, stop, preflight, test) run on
the agent host via the kittagent binary, not through kittctl.`)
}

// agentListEntry mirrors the subset of domain.Agent's unexported-tag JSON
// shape (field names, no json tags) needed to pick one agent out of the list.
type agentListEntry struct {
	ID     string
	Name   string
	Status string
}

func agentStatus(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return errors.New("agent id required")
	}
	data, err := client.request(ctx, http.MethodGet, "/api/v1/agents/", nil)
	if err != nil {
		return err
	}
	var agents []json.RawMessage
	if err := json.Unmarshal(data, &agents); err != nil {
		return fmt.Errorf("decode agent list: %w", err)
	}
	for _, raw := range agents {
		var entry agentListEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.ID == args[0] {
			prettyPrint(raw)
			return nil
		}
	}
	return fmt.Errorf("no agent with id %q", args[0])
}
