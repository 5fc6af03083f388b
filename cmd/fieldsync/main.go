// Package main is the entry point for the fieldsync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/kimhsiao/fieldsync/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
