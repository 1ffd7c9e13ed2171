package main

import (
	"os"

	"cellsync/cmd/cellsync/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
