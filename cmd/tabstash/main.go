package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tabstash/tabstash/internal/cmd"
)

func main() {
	// Optional .env for local overrides; a missing file is fine.
	_ = godotenv.Load() //nolint:errcheck // absence is not an error

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
