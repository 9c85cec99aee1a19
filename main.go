// The main package for the wiserep-spider executable.
package main

import (
	"github.com/JakeFAU/wiserep-spider/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
