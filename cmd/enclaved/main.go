// Command enclaved runs the multi-tenant agent isolation gateway.
package main

import (
	"os"

	"enclave/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
