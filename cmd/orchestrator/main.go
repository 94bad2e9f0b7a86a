package main

import (
	"os"

	"github.com/anthropics/mycelium-executor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
