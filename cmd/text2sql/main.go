package main

import (
	"os"

	"github.com/ruochenliao/text2sql/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(int(cli.Run(cli.BuildInfo{Version: version, Commit: commit, Date: date})))
}
