// Command prortip is the entry point for the scanning engine's CLI.
package main

import (
	"github.com/doublegate/prort-ip/cmd/cli"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func run() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}

func main() {
	run()
}
