package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/docsync/pkg/store"
)

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	// Best-effort replica resolution (status works without one).
	replicaID, _ := a.resolveReplica(*replica)

	ids, err := a.store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: status: %v\n", err)
		return 1
	}
	if flags.NArg() > 0 {
		ids = []string{flags.Arg(0)}
	}

	type docStatus struct {
		ID     string            `json:"id"`
		Fields int               `json:"fields"`
		Clock  map[string]uint64 `json:"clock"`
	}
	var statuses []docStatus
	for _, id := range ids {
		snap, err := a.store.Get(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ds: status: %v\n", err)
			if store.IsNotFound(err) {
				return 2
			}
			return 1
		}
		statuses = append(statuses, docStatus{
			ID:     id,
			Fields: len(snap.Fields),
			Clock:  snap.Clock.Compact(),
		})
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"replica": replicaID, "documents": statuses})
		return 0
	}

	fmt.Printf("replica: %s\n", replicaID)
	if len(statuses) == 0 {
		fmt.Println("no documents")
		return 0
	}
	fmt.Println("documents:")
	for _, st := range statuses {
		fmt.Printf("  %s  (%d fields)  clock=%v\n", st.ID, st.Fields, st.Clock)
	}
	return 0
}
