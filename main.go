// Package main is the entry point for the custodian forensic timeline engine.
package main

import (
	"fmt"
	"os"

	"custodian/cmd"
)

// main is the entry point.
func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
