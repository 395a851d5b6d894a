package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdFields(args []string) int {
	flags := flag.NewFlagSet("fields", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ds fields <doc> [--json]")
		return 1
	}

	replicaID, err := a.resolveReplica(*replica)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: %v\n", err)
		return 1
	}
	docID := flags.Arg(0)

	d, found, err := a.openDoc(docID, replicaID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: fields: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "ds: no such document %q\n", docID)
		return 2
	}

	type fieldInfo struct {
		Path    string `json:"path"`
		Value   string `json:"value,omitempty"`
		Deleted bool   `json:"deleted,omitempty"`
		Stamp   string `json:"stamp"`
		Origin  string `json:"origin"`
	}
	var infos []fieldInfo
	for _, p := range d.Paths() {
		r, _ := d.Field(p)
		infos = append(infos, fieldInfo{
			Path:    p,
			Value:   string(r.Value),
			Deleted: r.Deleted,
			Stamp:   r.Stamp.String(),
			Origin:  r.Origin,
		})
	}

	if *jsonOut {
		printJSON(infos)
		return 0
	}
	for _, fi := range infos {
		if fi.Deleted {
			fmt.Printf("%-20s (deleted)  [%s]\n", fi.Path, fi.Stamp)
		} else {
			fmt.Printf("%-20s %s  [%s]\n", fi.Path, fi.Value, fi.Stamp)
		}
	}
	return 0
}
