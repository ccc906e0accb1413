// Command cdm-server runs the CDM server: the EME MediaKeys/MediaKeySession
// IPC service fronting a native DRM adapter.
package main

import (
	"fmt"
	"os"

	"github.com/rialto-project/cdm-server/cmd/cdm-server/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
