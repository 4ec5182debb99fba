// Command admitlog ingests ADT feeds into a bitemporal patient-flow store
// and answers questions about what was believed when.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/admitlog/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
