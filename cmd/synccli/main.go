// Package main provides the synccli entry point.
package main

import (
	"fmt"
	"os"

	"github.com/jrsteele09/go-chat-sync/cmd/synccli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
