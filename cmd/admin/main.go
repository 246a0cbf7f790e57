package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-versioning/pkg/versioning"
	"github.com/tendant/simple-versioning/pkg/versioning/config"
	"github.com/tendant/simple-versioning/pkg/versioning/scan"
)

const usage = `Versioned File Admin CLI

Inspects and repairs version records using the same configuration as the server.

USAGE:
  admin <command> [options]

COMMANDS:
  scan               Report files with zero or several ACTIVE versions
  versions <id>      List every version of a file, newest first
  active <id>        Show the ACTIVE version of a file
  delete <id>        Mark every version of a file DELETED

ENVIRONMENT VARIABLES:
  DATABASE_URL      memory, postgres://..., mongodb://... or badger://<dir>
  STORAGE_URL       memory://, file:///path or s3://bucket?region=...
  BASE_PATH         Prefix for every blob key

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  # Scan every file known to the repository
  admin scan

  # Scan selected files with more workers
  admin scan --ids=doc-1,doc-2 --concurrency=16

  # Remove a file and its stored content
  admin delete doc-1 --physical

OPTIONS:
  --ids=<a,b,c>      Files to scan (scan only, default: all)
  --concurrency=<n>  Parallel reads (scan only, default: 8)
  --physical         Also delete stored content (delete only)
  --json             Output as JSON
`

type options struct {
	ids         []string
	concurrency int
	physical    bool
	json        bool
	args        []string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one command and returns the process exit code. Resources
// opened by the configuration are released before it returns.
func run(args []string) int {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(args) < 1 {
		fmt.Print(usage, "\n")
		return 1
	}

	command := args[0]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage, "\n")
		return 0
	}

	switch command {
	case "scan", "versions", "active", "delete":
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage, "\n")
		return 1
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := cfg.Build(ctx)
	if err != nil {
		log.Printf("Failed to build service: %v", err)
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Printf("Failed to release resources: %v", err)
		}
	}()

	opts := parseOptions(args[1:])

	switch command {
	case "scan":
		err = handleScan(ctx, rt.Repository, opts)
	case "versions":
		err = handleVersions(ctx, rt.Service, opts)
	case "active":
		err = handleActive(ctx, rt.Service, opts)
	case "delete":
		err = handleDelete(ctx, rt.Service, opts)
	}
	if err != nil {
		log.Printf("%s failed: %v", command, err)
		return 1
	}
	return 0
}

func parseOptions(args []string) options {
	opts := options{}
	for _, arg := range args {
		key, value, isFlag := parseFlag(arg)
		if !isFlag {
			opts.args = append(opts.args, arg)
			continue
		}

		switch key {
		case "json":
			opts.json = true
		case "physical":
			opts.physical = true
		case "ids":
			for _, id := range strings.Split(value, ",") {
				if id = strings.TrimSpace(id); id != "" {
					opts.ids = append(opts.ids, id)
				}
			}
		case "concurrency":
			if n, err := strconv.Atoi(value); err == nil {
				opts.concurrency = n
			}
		}
	}
	return opts
}

func parseFlag(arg string) (string, string, bool) {
	if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
		return "", "", false
	}
	key, value, found := strings.Cut(arg[2:], "=")
	if !found {
		value = "true"
	}
	return key, value, true
}

func (o options) id() (string, error) {
	if len(o.args) == 0 {
		return "", errors.New("file id is required")
	}
	return o.args[0], nil
}

func handleScan(ctx context.Context, repo versioning.Repository, opts options) error {
	started := time.Now()
	result, err := scan.New(repo).Scan(ctx, scan.ScanOptions{
		IDs:         opts.ids,
		Concurrency: opts.concurrency,
		OnProgress: func(processed, total int) {
			if !opts.json && processed%100 == 0 {
				fmt.Fprintf(os.Stderr, "scanned %d/%d\n", processed, total)
			}
		},
	})
	if err != nil {
		return err
	}

	if opts.json {
		failed := make(map[string]string, len(result.FailedIDs))
		for id, cause := range result.FailedIDs {
			failed[id] = cause.Error()
		}
		return printJSON(map[string]any{
			"scanned":   result.TotalScanned,
			"failed":    failed,
			"anomalies": result.Anomalies,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tKIND\tVERSIONS\tDETAIL\n")
	for _, a := range result.Anomalies {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Kind, joinInts(a.Versions), a.Detail)
	}
	w.Flush()

	for id, cause := range result.FailedIDs {
		fmt.Printf("failed to read %s: %v\n", id, cause)
	}
	fmt.Printf("\nScanned: %d, failed: %d, anomalies: %d (%s)\n",
		result.TotalScanned, result.TotalFailed, len(result.Anomalies), time.Since(started).Round(time.Millisecond))
	return nil
}

func handleVersions(ctx context.Context, svc versioning.Service, opts options) error {
	id, err := opts.id()
	if err != nil {
		return err
	}
	versions, err := svc.ListVersions(ctx, id)
	if err != nil {
		return err
	}

	if opts.json {
		return printJSON(versions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "VERSION\tSTATUS\tPATH\tSIZE\tCREATED\n")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			v.Version, v.Status, v.StoragePath, v.Size, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	fmt.Printf("\nTotal: %d\n", len(versions))
	return nil
}

func handleActive(ctx context.Context, svc versioning.Service, opts options) error {
	id, err := opts.id()
	if err != nil {
		return err
	}
	active, err := svc.GetActive(ctx, id)
	if err != nil {
		return err
	}

	if opts.json {
		return printJSON(active)
	}
	fmt.Printf("%s v%d %s (%d bytes)\n", active.ID, active.Version, active.StoragePath, active.Size)
	return nil
}

func handleDelete(ctx context.Context, svc versioning.Service, opts options) error {
	id, err := opts.id()
	if err != nil {
		return err
	}
	if err := svc.DeleteFile(ctx, versioning.DeleteFileRequest{ID: id, Physical: opts.physical}); err != nil {
		var batchErr *versioning.PartialBatchError
		if errors.As(err, &batchErr) {
			fmt.Printf("%d objects deleted, could not delete: %s\n", batchErr.Deleted, strings.Join(batchErr.FailedKeys(), ", "))
		}
		return err
	}
	fmt.Printf("Deleted %s (physical=%t)\n", id, opts.physical)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
