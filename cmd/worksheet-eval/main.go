package main

import (
	"os"

	"github.com/morozRed/worksheet/internal/cli"
)

var version = "0.1.0-dev"

func main() {
	if err := cli.NewEvalCommand(version).Execute(); err != nil {
		os.Exit(1)
	}
}
