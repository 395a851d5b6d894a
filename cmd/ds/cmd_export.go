package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/docsync/pkg/store"
)

func (a *app) cmdExport(args []string) int {
	flags := flag.NewFlagSet("export", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ds export <doc>")
		return 1
	}
	docID := flags.Arg(0)

	snap, err := a.store.Get(docID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: export: %v\n", err)
		if store.IsNotFound(err) {
			return 2
		}
		return 1
	}
	printJSON(snap)
	return 0
}
