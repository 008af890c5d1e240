// Command netscan discovers live hosts and identifies their services.
package main

import (
	"os"

	"github.com/anstrom/netscan/cmd/cli"
)

// Set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	os.Exit(cli.Execute())
}
