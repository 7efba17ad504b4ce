// Package main is the entry point for the ffpeaks application.
package main

import (
	"os"

	"github.com/jmylchreest/ffpeaks/cmd/ffpeaks/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
