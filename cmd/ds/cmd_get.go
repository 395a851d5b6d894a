package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdGet(args []string) int {
	flags := flag.NewFlagSet("get", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: ds get <doc> <path> [--json]")
		return 1
	}

	replicaID, err := a.resolveReplica(*replica)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: %v\n", err)
		return 1
	}
	docID, path := flags.Arg(0), flags.Arg(1)

	d, found, err := a.openDoc(docID, replicaID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: get: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "ds: no such document %q\n", docID)
		return 2
	}

	value, ok := d.Get(path)
	if !ok {
		if *jsonOut {
			printJSON(map[string]interface{}{"doc": docID, "path": path, "deleted": d.Deleted(path)})
		} else if d.Deleted(path) {
			fmt.Fprintf(os.Stderr, "ds: %s %s is deleted\n", docID, path)
		} else {
			fmt.Fprintf(os.Stderr, "ds: %s has no field %q\n", docID, path)
		}
		return 2
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"doc": docID, "path": path, "value": value})
	} else {
		fmt.Println(string(value))
	}
	return 0
}
