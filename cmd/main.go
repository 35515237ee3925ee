package main

import (
	"os"

	"github.com/MimeLyc/chunked-sql-translator/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
