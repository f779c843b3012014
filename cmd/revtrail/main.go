// Command revtrail inspects and exercises a revision audit trail.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/revtrail/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
