// Command tsubone manages club membership records from the terminal.
package main

import (
	"os"

	"github.com/kagucho/tsubonesystem3-sub000/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
