package main

import (
	"fmt"
	"os"

	"github.com/jspreddy/dql/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dql:", err)
		os.Exit(cli.ExitCode(err))
	}
}
