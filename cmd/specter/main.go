// Command specter verifies declarative state machine models.
package main

import (
	"fmt"
	"os"

	"github.com/specterhq/specter/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
