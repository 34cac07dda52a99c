// Command docopsctl is a small maintenance CLI for inspecting a docops
// job store directly: job detail, its audit trail, and its artifacts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/antigravity-dev/docops/internal/jobstate"
	"github.com/antigravity-dev/docops/internal/store"
)

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	dbPath := flag.String("db", "./docops.db", "path to the docops SQLite database")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		die("usage: docopsctl -db=<path> <job|events|artifacts|status> <job-id> [args...]")
	}

	s, err := store.Open(*dbPath)
	if err != nil {
		die("open store %s: %v", *dbPath, err)
	}
	defer s.Close()

	ctx := context.Background()
	cmd := args[0]

	switch cmd {
	case "job":
		if len(args) < 2 {
			die("usage: docopsctl job <job-id>")
		}
		job, err := s.GetJob(ctx, args[1])
		if err != nil {
			die("get job %s: %v", args[1], err)
		}
		printJSON(job)

	case "events":
		if len(args) < 2 {
			die("usage: docopsctl events <job-id>")
		}
		events, err := s.ListAuditEvents(ctx, args[1])
		if err != nil {
			die("list events for %s: %v", args[1], err)
		}
		printJSON(events)

	case "artifacts":
		if len(args) < 2 {
			die("usage: docopsctl artifacts <job-id>")
		}
		artifacts, err := s.ListArtifacts(ctx, args[1])
		if err != nil {
			die("list artifacts for %s: %v", args[1], err)
		}
		printJSON(artifacts)

	case "status":
		if len(args) < 4 {
			die("usage: docopsctl status <job-id> <to-status> <reason>")
		}
		job, err := s.SetJobStatus(ctx, args[1], jobstate.Status(args[2]), args[3])
		if err != nil {
			die("set status for %s: %v", args[1], err)
		}
		printJSON(job)

	default:
		die("unknown subcommand %q", cmd)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		die("encode output: %v", err)
	}
}
