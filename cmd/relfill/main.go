// Command relfill validates relation schemas, fills entities from nested
// JSON payloads and runs fill scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/relfill/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
