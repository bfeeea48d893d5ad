package main

import (
	"os"

	"github.com/centi-network/centi/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
