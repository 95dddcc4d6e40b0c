// Package main is the entry point for the techdex CLI.
package main

import (
	"os"

	"github.com/jmylchreest/techdex/cmd/techdex/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
