package main

import (
	"os"

	"github.com/aldrin/coursedesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
