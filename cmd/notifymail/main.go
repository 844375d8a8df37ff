package main

import (
	"os"

	"github.com/ecocircle/notifymail/pkg/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return cli.Run(args)
}
