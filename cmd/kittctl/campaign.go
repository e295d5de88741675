package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func handleCampaign(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		printCampaignUsage()
		return nil
	}
	switch args[0] {
	case "create":
		return campaignCreate(ctx, client, args[1:])
	case "launch":
		return campaignLaunch(ctx, client, args[1:])
	case "list":
		data, err := client.request(ctx, http.MethodGet, "/api/v1/campaigns/", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "status":
		return campaignStatus(ctx, client, args[1:])
	case "cancel":
		return campaignCancel(ctx, client, args[1:])
	case "schedule":
		return errors.New("campaign schedule is set at creation time via the config's 'schedule' cron field; re-run 'campaign create'")
	default:
		printCampaignUsage()
		return fmt.Errorf("unknown campaign subcommand %q", args[0])
	}
}

func printCampaignUsage() {
	fmt.Println(`Usage:
  kittctl campaign create --name <name> --agent <id> --file <campaign.yaml>
  kittctl campaign launch <campaign-id>
  kittctl campaign list
  kittctl campaign status <campaign-id>
  kittctl campaign cancel <campaign-id>`)
}

func campaignCreate(ctx context.Context, client *apiClient, args []string) error {
	fs := flag.NewFlagSet("campaign create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "campaign name (defaults to campaign_name in the YAML file)")
	agentID := fs.String("agent", "", "agent id this campaign targets (required)")
	file := fs.String("file", "", "path to the campaign YAML file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" || *file == "" {
		return errors.New("--agent and --file are required")
	}
	configYAML, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read campaign file: %w", err)
	}
	data, err := client.request(ctx, http.MethodPost, "/api/v1/campaigns/", map[string]any{
		"name":        *name,
		"agent_id":    *agentID,
		"config_yaml": string(configYAML),
	})
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func campaignLaunch(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return errors.New("campaign id required")
	}
	data, err := client.request(ctx, http.MethodPost, "/api/v1/campaigns/"+args[0]+"/launch", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func campaignStatus(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return errors.New("campaign id required")
	}
	data, err := client.request(ctx, http.MethodGet, "/api/v1/campaigns/"+args[0], nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func campaignCancel(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return errors.New("campaign id required")
	}
	data, err := client.request(ctx, http.MethodPost, "/api/v1/campaigns/"+args[0]+"/cancel", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}
