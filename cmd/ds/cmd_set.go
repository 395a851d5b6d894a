package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdSet(args []string) int {
	flags := flag.NewFlagSet("set", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "usage: ds set <doc> <path> <value-json> [--json]")
		return 1
	}

	replicaID, err := a.resolveReplica(*replica)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: %v\n", err)
		return 1
	}
	docID, path, value := flags.Arg(0), flags.Arg(1), flags.Arg(2)
	if !json.Valid([]byte(value)) {
		fmt.Fprintf(os.Stderr, "ds: value is not valid JSON: %s\n", value)
		return 1
	}

	d, _, err := a.openDoc(docID, replicaID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: set: %v\n", err)
		return 1
	}
	stamp, err := d.Set(path, json.RawMessage(value))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: set: %v\n", err)
		return 1
	}
	if err := a.saveDoc(d); err != nil {
		fmt.Fprintf(os.Stderr, "ds: set: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"doc": docID, "path": path, "stamp": stamp.String()})
	} else {
		fmt.Printf("%s %s = %s at %s\n", docID, path, value, stamp)
	}
	return 0
}
