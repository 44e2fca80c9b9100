package main

import (
	"os"

	"github.com/okulich/newsdeck/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
