// Command sigil declares immutable symbols and keeps hash-chained,
// metric-monotonic evolution ledgers.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sigil/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
