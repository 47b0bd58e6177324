// Command nga-monitor is the entry point of the forum monitor.
package main

import (
	"github.com/JakeFAU/nga-monitor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
