// Package main provides the entry point for the lodestone CLI.
package main

import (
	"os"

	"github.com/lodestone-mcp/lodestone/cmd/lodestone/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
