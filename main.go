package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cmd "github.com/liliang-cn/ragstore/cmd/ragstore"
)

var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
