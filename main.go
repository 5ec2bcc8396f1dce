// ABOUTME: Entry point for the stagesound CLI
// ABOUTME: Delegates to the cobra commands in cmd/
package main

import (
	"fmt"
	"os"

	"github.com/harperreed/stagesound/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
