package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/daviddao/docsync/pkg/doc"
	"github.com/daviddao/docsync/pkg/store"
)

const (
	defaultDir  = ".docsync"
	dbFile      = "replica.bolt"
	replicaFile = "replica"
)

// app holds shared state for all local CLI subcommands.
type app struct {
	dir     string
	store   store.Adapter
	replica string // resolved replica identity
}

// newApp opens the replica directory and its bolt store. The directory
// comes from DOCSYNC_DIR (default .docsync/) and must have been
// created by `ds init`.
func newApp() (*app, error) {
	dir := envOr("DOCSYNC_DIR", defaultDir)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("no replica at %s (run 'ds init' first): %w", dir, err)
	}
	st, err := store.NewBolt(filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("cannot open store in %s: %w", dir, err)
	}
	return &app{dir: dir, store: st, replica: loadReplicaID(dir)}, nil
}

// Close releases the store.
func (a *app) Close() { a.store.Close() }

// loadReplicaID reads the persisted replica identity, preferring the
// DOCSYNC_REPLICA override.
func loadReplicaID(dir string) string {
	if id := os.Getenv("DOCSYNC_REPLICA"); id != "" {
		return id
	}
	data, err := os.ReadFile(filepath.Join(dir, replicaFile))
	if err != nil {
		return ""
	}
	return string(trimNewline(data))
}

// resolveReplica returns the replica ID from the flag (if non-empty),
// falling back to the persisted identity.
func (a *app) resolveReplica(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	if a.replica != "" {
		return a.replica, nil
	}
	return "", fmt.Errorf("no replica ID: pass --replica, set DOCSYNC_REPLICA, or run 'ds init'")
}

// openDoc loads a document from the store, or returns a fresh one for
// ids never written. found reports which.
func (a *app) openDoc(docID, replica string) (d *doc.Document, found bool, err error) {
	snap, err := a.store.Get(docID)
	switch {
	case err == nil:
		return doc.FromSnapshot(snap, replica), true, nil
	case store.IsNotFound(err):
		return doc.New(docID, replica), false, nil
	default:
		return nil, false, err
	}
}

// saveDoc persists the document snapshot.
func (a *app) saveDoc(d *doc.Document) error {
	return a.store.Put(d.ID(), d.Snapshot())
}

// resolveServer returns the sync server URL from the flag or the
// DOCSYNC_SERVER environment variable.
func resolveServer(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	if v := os.Getenv("DOCSYNC_SERVER"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no server: pass --server or set DOCSYNC_SERVER")
}

// newReplicaID generates a fresh replica identity.
func newReplicaID() string { return uuid.NewString() }

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func trimNewline(data []byte) []byte {
	for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
		data = data[:len(data)-1]
	}
	return data
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ds: "+format+"\n", args...)
	os.Exit(1)
}
