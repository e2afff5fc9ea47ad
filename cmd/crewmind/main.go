// Package main is the entry point for the crewmind CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "crewmind: %v\n", err)
		os.Exit(1)
	}
}
