// Package main provides the headless framefusion command: it runs one job
// against an image or video and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/maauso/framefusion/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	cmd := newRootCommand(cfg)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
