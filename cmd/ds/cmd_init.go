package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daviddao/docsync/pkg/store"
)

func cmdInit(args []string) int {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	replica := flags.String("replica", "", "replica ID (generated if omitted)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	dir := envOr("DOCSYNC_DIR", defaultDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "ds: cannot create %s: %v\n", dir, err)
		return 1
	}

	idPath := filepath.Join(dir, replicaFile)
	id := *replica
	if existing := loadReplicaID(dir); existing != "" && id == "" {
		id = existing
	}
	if id == "" {
		id = newReplicaID()
	}
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "ds: write replica ID: %v\n", err)
		return 1
	}

	// Create the store file so later commands find a valid replica.
	st, err := store.NewBolt(filepath.Join(dir, dbFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: init store: %v\n", err)
		return 1
	}
	st.Close()

	if *jsonOut {
		printJSON(map[string]interface{}{"dir": dir, "replica": id})
	} else {
		fmt.Printf("initialized replica %s in %s\n", id, dir)
	}
	return 0
}
