package main

import (
	"os"

	"github.com/psantana5/exitshim/cmd/exitshim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
