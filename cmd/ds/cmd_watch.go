package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daviddao/docsync/pkg/client"
	"github.com/daviddao/docsync/pkg/doc"
)

func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	serverURL := flags.String("server", "", "sync server URL (ws://host:port/ws)")
	token := flags.String("token", envOr("DOCSYNC_TOKEN", "anonymous"), "auth token")
	jsonOut := flags.Bool("json", false, "JSON output (one delta per line)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ds watch <doc> [--server URL] [--json]")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "watching %s on %s (ctrl-c to stop)\n", docID, url)

	c := client.New(url, *token, replicaID, a.store)
	err = c.Watch(ctx, docID, func(delta doc.Delta) {
		if *jsonOut {
			b, _ := json.Marshal(delta)
			fmt.Println(string(b))
			return
		}
		for _, ch := range delta.Changes {
			if ch.Deleted {
				fmt.Printf("[%s] %s deleted\n", ch.Stamp, ch.Path)
			} else {
				fmt.Printf("[%s] %s = %s\n", ch.Stamp, ch.Path, ch.Value)
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "ds: watch: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stderr, "\nstopped")
	return 0
}
