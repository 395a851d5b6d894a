// Command ds is the docsync CLI — a local-first replicated document
// store with field-level last-write-wins merging, synced over
// WebSocket.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("ds", version)
		return
	case "init":
		os.Exit(cmdInit(os.Args[2:]))
	case "serve":
		os.Exit(cmdServe(os.Args[2:]))
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	case "set":
		os.Exit(a.cmdSet(os.Args[2:]))
	case "get":
		os.Exit(a.cmdGet(os.Args[2:]))
	case "del":
		os.Exit(a.cmdDel(os.Args[2:]))
	case "fields":
		os.Exit(a.cmdFields(os.Args[2:]))
	case "status":
		os.Exit(a.cmdStatus(os.Args[2:]))
	case "export":
		os.Exit(a.cmdExport(os.Args[2:]))
	case "merge":
		os.Exit(a.cmdMerge(os.Args[2:]))
	case "diff":
		os.Exit(a.cmdDiff(os.Args[2:]))
	case "sync":
		os.Exit(a.cmdSync(os.Args[2:]))
	case "watch":
		os.Exit(a.cmdWatch(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "ds: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'ds --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`ds — local-first document sync

Field-level last-write-wins documents. Vector clocks for causality.
Offline edits merge deterministically when replicas reconnect.

Usage:
  ds <command> [flags]

Setup:
  init [--replica ID]          Create the local replica (generates an ID)
  serve [--config FILE]        Run the sync server

Local documents:
  set <doc> <path> <json>      Write a field
  get <doc> <path>             Read a field
  del <doc> <path>             Delete a field (tombstone)
  fields <doc>                 List fields, tombstones included
  status [<doc>]               Replica identity and vector clocks
  export <doc>                 Print the document snapshot as JSON
  merge <doc> <file>           Merge a snapshot exported elsewhere
  diff <doc> [--since JSON]    Print the delta since a vector clock

Sync:
  sync <doc> [--server URL]    One round trip: push local, pull remote
  watch <doc> [--server URL]   Stay subscribed, print incoming deltas

Environment:
  DOCSYNC_DIR      Replica directory (default: .docsync)
  DOCSYNC_REPLICA  Replica ID override
  DOCSYNC_SERVER   Default sync server URL (ws://host:port/ws)

Commands that report a result accept --json for machine-readable
output; export and diff always print JSON, and serve takes no --json.

Exit codes:
  0  success
  1  error
  2  not found
`)
}
