// Package main provides the entry point for the wsb CLI.
package main

import (
	"os"

	"github.com/danny0838/PyWebScrapBook-sub001/cmd/wsb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
