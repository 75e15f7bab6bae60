// Command plural-orchestrator runs coding-agent sessions from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/zhubert/plural-orchestrator/cmd/plural-orchestrator/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
