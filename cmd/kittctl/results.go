package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

func handleResults(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  kittctl results compare <run-id-a> <run-id-b>`)
		return nil
	}
	switch args[0] {
	case "compare":
		return resultsCompare(ctx, client, args[1:])
	default:
		return fmt.Errorf("unknown results subcommand %q", args[0])
	}
}

type resultRun struct {
	ID         string `json:"ID"`
	Model      string `json:"Model"`
	Engine     string `json:"Engine"`
	Benchmarks []struct {
		Name    string `json:"Name"`
		Metrics []struct {
			Name  string  `json:"Name"`
			Value float64 `json:"Value"`
		} `json:"Metrics"`
	} `json:"Benchmarks"`
}

func (r resultRun) metric(name string) (float64, bool) {
	for _, b := range r.Benchmarks {
		for _, m := range b.Metrics {
			if m.Name == name {
				return m.Value, true
			}
		}
	}
	return 0, false
}

func resultsCompare(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 2 {
		return errors.New("two run ids required: kittctl results compare <a> <b>")
	}
	data, err := client.request(ctx, http.MethodGet, "/api/v1/runs/?limit=500", nil)
	if err != nil {
		return err
	}
	var page struct {
		Runs []resultRun `json:"runs"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return fmt.Errorf("decode runs: %w", err)
	}

	var a, b *resultRun
	for i := range page.Runs {
		switch page.Runs[i].ID {
		case args[0]:
			a = &page.Runs[i]
		case args[1]:
			b = &page.Runs[i]
		}
	}
	if a == nil || b == nil {
		return fmt.Errorf("could not find both runs %q and %q in the most recent 500 runs", args[0], args[1])
	}

	names := map[string]bool{}
	for _, bench := range a.Benchmarks {
		for _, m := range bench.Metrics {
			names[m.Name] = true
		}
	}
	for _, bench := range b.Benchmarks {
		for _, m := range bench.Metrics {
			names[m.Name] = true
		}
	}

	fmt.Printf("%-30s %-20s %-20s %s\n", "metric", a.ID, b.ID, "delta")
	for name := range names {
		av, _ := a.metric(name)
		bv, _ := b.metric(name)
		fmt.Printf("%-30s %-20.4f %-20.4f %+.4f\n", name, av, bv, bv-av)
	}
	return nil
}
