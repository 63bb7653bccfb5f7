// Package main is the entry point for the gradesync operator CLI.
package main

import (
	"os"

	"sis-gradesync/cmd/gradesync/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
