// Command pgwsearch searches the Postgres Weekly newsletter archive.
package main

import (
	"os"

	"github.com/pgweekly/pgwsearch/cmd/pgwsearch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
