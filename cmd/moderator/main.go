package main

import (
	"os"

	"github.com/tomsuharto-git/irm-personas-api/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
