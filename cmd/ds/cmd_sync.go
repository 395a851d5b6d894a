package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/docsync/pkg/client"
)

func (a *app) cmdSync(args []string) int {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	serverURL := flags.String("server", "", "sync server URL (ws://host:port/ws)")
	token := flags.String("token", envOr("DOCSYNC_TOKEN", "anonymous"), "auth token")
	timeout := flags.Int("timeout", 30, "timeout in seconds")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ds sync <doc> [--server URL] [--json]")
		return 1
	}

	replicaID, err := a.resolveReplica(*replica)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: %v\n", err)
		return 1
	}
	url, err := resolveServer(*serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: %v\n", err)
		return 1
	}
	docID := flags.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()

	c := client.New(url, *token, replicaID, a.store)
	if err := c.Sync(ctx, docID); err != nil {
		fmt.Fprintf(os.Stderr, "ds: sync: %v\n", err)
		return 1
	}

	d, err := c.Open(docID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: sync: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(map[string]interface{}{
			"doc": docID, "fields": d.Len(), "clock": d.Clock(),
		})
	} else {
		fmt.Printf("synced %s (%d fields, clock=%v)\n", docID, d.Len(), d.Clock())
	}
	return 0
}
