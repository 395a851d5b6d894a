package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/docsync/pkg/doc"
)

func (a *app) cmdMerge(args []string) int {
	flags := flag.NewFlagSet("merge", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: ds merge <doc> <snapshot-file> [--json]")
		return 1
	}

	replicaID, err := a.resolveReplica(*replica)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: %v\n", err)
		return 1
	}
	docID, file := flags.Arg(0), flags.Arg(1)

	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: merge: %v\n", err)
		return 1
	}
	snap, err := doc.UnmarshalSnapshot(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: merge: %v\n", err)
		return 1
	}

	d, _, err := a.openDoc(docID, replicaID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: merge: %v\n", err)
		return 1
	}
	before := d.Len()
	if err := d.Merge(doc.FromSnapshot(snap, replicaID)); err != nil {
		fmt.Fprintf(os.Stderr, "ds: merge: %v\n", err)
		return 1
	}
	if err := a.saveDoc(d); err != nil {
		fmt.Fprintf(os.Stderr, "ds: merge: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"doc": docID, "fields": d.Len(), "new_fields": d.Len() - before,
		})
	} else {
		fmt.Printf("merged %s into %s (%d fields)\n", file, docID, d.Len())
	}
	return 0
}
