// The main package for the leadfinder executable.
package main

import (
	"github.com/JakeFAU/leadfinder/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
