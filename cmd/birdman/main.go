package main

import (
	"os"

	"github.com/ppiankov/birdman/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
