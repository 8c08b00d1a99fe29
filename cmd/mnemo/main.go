package main

import (
	"os"

	"github.com/fathomlabs/mnemo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
