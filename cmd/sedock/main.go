package main

import (
	"os"

	"github.com/majorcontext/sedock/cmd/sedock/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
