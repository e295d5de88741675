package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kitt-bench/controller/internal/config"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/internal/storage/sqlstore"
)

func handleStorage(ctx context.Context, home string, args []string) error {
	if len(args) == 0 {
		printStorageUsage()
		return nil
	}
	switch args[0] {
	case "init":
		return storageInitOrMigrate(ctx, home, true)
	case "migrate":
		return storageInitOrMigrate(ctx, home, false)
	case "stats":
		return storageStats(ctx, home)
	case "import":
		return storageImport(ctx, home, args[1:])
	case "export":
		return storageExport(ctx, home, args[1:])
	case "list":
		return storageList(ctx, home, args[1:])
	default:
		printStorageUsage()
		return fmt.Errorf("unknown storage subcommand %q", args[0])
	}
}

func printStorageUsage() {
	fmt.Println(`Usage:
  kittctl storage init
  kittctl storage migrate
  kittctl storage stats
  kittctl storage import --file <runs.json>
  kittctl storage export --id <run-id> [--file <out.json>]
  kittctl storage list runs|campaigns|agents`)
}

func openStore(home string) (storage.Store, *config.Config, error) {
	cfg, err := config.LoadFile(filepath.Join(home, "controller.yaml"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Home = home

	switch cfg.Database.Driver {
	case "postgres":
		st, err := sqlstore.NewPostgres(cfg.DSNOrDefault(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, true)
		return st, cfg, err
	default:
		if err := os.MkdirAll(home, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create home dir: %w", err)
		}
		st, err := sqlstore.NewSQLite(cfg.DSNOrDefault(), true)
		return st, cfg, err
	}
}

func storageInitOrMigrate(ctx context.Context, home string, isInit bool) error {
	st, cfg, err := openStore(home)
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	verb := "migrated"
	if isInit {
		verb = "initialized"
	}
	fmt.Printf("%s %s database at schema version %d\n", verb, cfg.Database.Driver, version)
	return nil
}

func storageStats(ctx context.Context, home string) error {
	st, _, err := openStore(home)
	if err != nil {
		return err
	}
	defer st.Close()

	agents, err := st.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	campaigns, err := st.ListCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("list campaigns: %w", err)
	}
	runs, _, err := st.QueryRuns(ctx, domain.RunFilter{Limit: 1})
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}

	fmt.Printf("agents:    %d\n", len(agents))
	fmt.Printf("campaigns: %d\n", len(campaigns))
	if len(runs) > 0 {
		fmt.Println("runs:      at least 1 (use 'storage list runs' for the full page)")
	} else {
		fmt.Println("runs:      0")
	}
	return nil
}

func storageImport(ctx context.Context, home string, args []string) error {
	fs := flag.NewFlagSet("storage import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	file := fs.String("file", "", "path to a JSON file holding one or more runs (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}
	var runs []domain.Run
	if err := json.Unmarshal(data, &runs); err != nil {
		var single domain.Run
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return fmt.Errorf("decode %s as a run or run array: %w", *file, err)
		}
		runs = []domain.Run{single}
	}

	st, _, err := openStore(home)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, run := range runs {
		if err := st.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("save run %s: %w", run.ID, err)
		}
	}
	fmt.Printf("imported %d run(s)\n", len(runs))
	return nil
}

func storageExport(ctx context.Context, home string, args []string) error {
	fs := flag.NewFlagSet("storage export", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "run id to export (required)")
	file := fs.String("file", "", "output file path (defaults to stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	st, _, err := openStore(home)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(ctx, *id)
	if err != nil {
		return fmt.Errorf("get run %s: %w", *id, err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	if *file == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(*file, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *file, err)
	}
	fmt.Printf("exported run %s to %s\n", *id, *file)
	return nil
}

func storageList(ctx context.Context, home string, args []string) error {
	kind := "runs"
	if len(args) > 0 {
		kind = args[0]
	}

	st, _, err := openStore(home)
	if err != nil {
		return err
	}
	defer st.Close()

	switch kind {
	case "runs":
		runs, _, err := st.QueryRuns(ctx, domain.RunFilter{})
		if err != nil {
			return fmt.Errorf("query runs: %w", err)
		}
		data, _ := json.Marshal(runs)
		prettyPrint(data)
	case "campaigns":
		campaigns, err := st.ListCampaigns(ctx)
		if err != nil {
			return fmt.Errorf("list campaigns: %w", err)
		}
		data, _ := json.Marshal(campaigns)
		prettyPrint(data)
	case "agents":
		agents, err := st.ListAgents(ctx)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
		data, _ := json.Marshal(agents)
		prettyPrint(data)
	default:
		return fmt.Errorf("unknown list kind %q (want runs, campaigns or agents)", kind)
	}
	return nil
}
