// Command elfctl is ELF's operational CLI (spec §6 "CLI / HTTP (boundary)"):
// serve runs the HTTP API, worker drains the outbox queues, and migrate
// ensures the relational schema exists. Grounded on the teacher's
// cmd/server/main.go composition root (config/log/store wiring, SIGINT/
// SIGTERM graceful shutdown), with cobra subcommands in the shape
// cuemby-warren's cmd/warren and steveyegge-beads's cmd/bd use.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
