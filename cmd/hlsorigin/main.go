// Package main is the entry point for the standalone origin server binary.
package main

import (
	"os"

	"github.com/jessicalh/rptr/cmd/hlsorigin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
