// Package main provides the entry point for the modelrelay CLI.
package main

import (
	"fmt"
	"os"

	"github.com/modelrelay/modelrelay/cmd/modelrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
