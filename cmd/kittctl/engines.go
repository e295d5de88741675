package main

import (
	"context"
	"fmt"
	"net/http"
)

func handleEngines(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list", "check":
		data, err := client.request(ctx, http.MethodPost, "/api/v1/quicktest/agent-capabilities", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	default:
		return fmt.Errorf("unknown engines subcommand %q", args[0])
	}
}
