// Command racecli provides operator tooling over persisted race artifacts,
// grounded on the teacher pack's roach88-nysm/brutalist CLI structure.
package main

import (
	"fmt"
	"os"

	"raceline/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
