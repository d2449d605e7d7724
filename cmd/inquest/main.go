package main

import (
	"os"

	"github.com/inquest-dev/inquest/cmd/inquest/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
