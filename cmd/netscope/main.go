// Command netscope diagnoses LAN connectivity, discovers the devices on the
// local network and serves the same operations over a REST API.
package main

import (
	"github.com/anstrom/netscope/cmd/cli"
	"github.com/anstrom/netscope/internal/api/handlers"
)

// Set by ldflags, e.g.
// -X main.version=v1.0.0 -X main.commit=$(git rev-parse --short HEAD).
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	handlers.SetBuildInfo(version, commit, buildTime)
	cli.Execute()
}
