package main

import (
	"fmt"
	"os"

	"github.com/promptsworkmagic/ollama-compass/internal/commands"
	"github.com/promptsworkmagic/ollama-compass/internal/version"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime
	version.Commit = Commit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
