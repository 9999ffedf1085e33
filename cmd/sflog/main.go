package main

import (
	"fmt"
	"os"

	"github.com/apexlog/backend/internal/cli"
)

// Version info (set during build)
var Version = "dev"

func main() {
	if err := cli.NewRootCommand(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
