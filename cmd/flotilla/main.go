// Package main is the entry point for the flotilla CLI.
//
// All functionality lives in internal/cli, which defines the cobra
// commands. Build-time variables (version, commit, date) are injected via
// ldflags:
//
//	go build -ldflags "-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)" ./cmd/flotilla
package main

import (
	"github.com/mmr-tortoise/flotilla/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}
