package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdDel(args []string) int {
	flags := flag.NewFlagSet("del", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: ds del <doc> <path> [--json]")
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
		fmt.Fprintf(os.Stderr, "ds: del: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "ds: no such document %q\n", docID)
		return 2
	}
	stamp, err := d.Delete(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: del: %v\n", err)
		return 1
	}
	if err := a.saveDoc(d); err != nil {
		fmt.Fprintf(os.Stderr, "ds: del: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"doc": docID, "path": path, "stamp": stamp.String()})
	} else {
		fmt.Printf("%s %s deleted at %s\n", docID, path, stamp)
	}
	return 0
}
