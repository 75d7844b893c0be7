// The main package for the rostercrawler executable.
package main

import (
	"github.com/JakeFAU/eld-roster-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
