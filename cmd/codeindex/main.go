// Command codeindex indexes a workspace for semantic code search and
// serves the index to MCP clients over stdio.
package main

import (
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
