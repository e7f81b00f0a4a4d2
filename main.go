// The main package for the orgcrawler executable.
package main

import (
	"github.com/JakeFAU/org-contact-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
