package main

import (
	"os"

	"github.com/animus-labs/loadrunner/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stderr))
}
