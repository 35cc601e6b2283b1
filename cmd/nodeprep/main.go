// Package main provides the entry point for the nodeprep CLI.
package main

import (
	"os"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(pipeline.ExitCodeFor(err))
	}
}
