// Package main provides the storycli terminal client.
//
// Usage:
//
//	storycli [flags] <command> [args]
//
// Commands:
//
//	run     - run the generation pipeline against a server and watch it live
//	stages  - list the pipeline stages
package main

import (
	"fmt"
	"os"

	"github.com/prompt2story/storygen/cmd/storycli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
