package main

import (
	"os"

	"github.com/ashureev/pitch-labs/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
