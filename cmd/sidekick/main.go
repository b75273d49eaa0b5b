// Package main is the entry point for the sidekick CLI.
package main

import (
	"os"

	"github.com/sidekick-chat/sidekick/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
