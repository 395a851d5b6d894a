package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/docsync/pkg/clock"
)

func (a *app) cmdDiff(args []string) int {
	flags := flag.NewFlagSet("diff", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	since := flags.String("since", "{}", "vector clock as JSON, e.g. '{\"laptop\":3}'")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ds diff <doc> [--since CLOCK-JSON]")
		return 1
	}

	replicaID, err := a.resolveReplica(*replica)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: %v\n", err)
		return 1
	}
	docID := flags.Arg(0)

	known := clock.NewVector()
	if err := json.Unmarshal([]byte(*since), &known); err != nil {
		fmt.Fprintf(os.Stderr, "ds: diff: bad --since clock: %v\n", err)
		return 1
	}

	d, found, err := a.openDoc(docID, replicaID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: diff: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "ds: no such document %q\n", docID)
		return 2
	}

	printJSON(d.DiffSince(known))
	return 0
}
