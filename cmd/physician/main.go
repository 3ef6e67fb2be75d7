package main

import (
	"os"

	"github.com/psantana5/physician/cmd/physician/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
