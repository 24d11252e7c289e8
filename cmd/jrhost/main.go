package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/catapultcase/JunctionRelay-Collectors/internal/cli"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
