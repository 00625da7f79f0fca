// Package main is the CLI command itself.
package main

import (
	"log"
	"os"

	annotatorcli "go.viam.com/annotator/cli"
)

func main() {
	app := annotatorcli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
