package main

import (
	"os"

	"github.com/bunrunner/bunrunner/cmd/bun-runner/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
