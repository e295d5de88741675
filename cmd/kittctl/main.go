// Command kittctl is the control-plane CLI for a kitt controller (spec §6):
// it drives the HTTP API for day-to-day operations (quick tests, campaigns,
// agent administration) and a handful of purely local operations (storage
// bootstrap, fingerprinting, serving the controller itself).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kittctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := flag.NewFlagSet("kittctl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	addr := root.String("addr", envOr("KITT_CONTROLLER_URL", "http://localhost:8080"), "controller base URL")
	token := root.String("token", os.Getenv("KITT_AUTH_TOKEN"), "admin bearer token")
	home := root.String("home", defaultHome(), "kitt home directory (state, config, model cache)")
	timeout := root.Duration("timeout", 15*time.Second, "HTTP request timeout")
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	client := &apiClient{
		baseURL: strings.TrimRight(*addr, "/"),
		token:   strings.TrimSpace(*token),
		http:    &http.Client{Timeout: *timeout},
	}

	switch remaining[0] {
	case "run":
		return handleRun(ctx, client, remaining[1:])
	case "storage":
		return handleStorage(ctx, *home, remaining[1:])
	case "campaign":
		return handleCampaign(ctx, client, remaining[1:])
	case "agent":
		return handleAgent(ctx, client, remaining[1:])
	case "engines":
		return handleEngines(ctx, client, remaining[1:])
	case "stack":
		return handleStack(remaining[1:])
	case "results":
		return handleResults(ctx, client, remaining[1:])
	case "web":
		return handleWeb(ctx, *home, remaining[1:])
	case "fingerprint":
		return handleFingerprint(ctx)
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func usageError(err error) error {
	printRootUsage()
	return err
}

func printRootUsage() {
	fmt.Println(`kitt control CLI (kittctl)

Usage:
  kittctl [global flags] <command> [subcommand] [flags]

Global Flags:
  --addr       Controller base URL (env KITT_CONTROLLER_URL, default http://localhost:8080)
  --token      Admin bearer token (env KITT_AUTH_TOKEN)
  --home       kitt home directory (default $KITT_HOME or ~/.kitt)
  --timeout    HTTP timeout (default 15s)

Commands:
  run          Create and dispatch a single quick test
  storage      init | migrate | stats | import | export | list
  campaign     create | launch | list | status | cancel
  agent        list | status | register | preflight | test {list,stop}
  engines      list | check
  stack        generate | start | stop | status | list | remove
  results      compare
  web          serve the controller (embeds cmd/kittd)
  fingerprint  print this host's detected hardware fingerprint`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultHome() string {
	if h := os.Getenv("KITT_HOME"); h != "" {
		return h
	}
	home, _ := os.UserHomeDir()
	return home + "/.kitt"
}
