// The main package for the fixlab executable.
package main

import (
	"github.com/JakeFAU/fixlab/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
