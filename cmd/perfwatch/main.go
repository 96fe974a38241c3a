package main

import (
	"os"

	"github.com/utpal16raj09/PerformaMeter/cmd/perfwatch/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
