// The main package for the sitescraper executable.
package main

import (
	"os"

	"github.com/JakeFAU/sitescraper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
