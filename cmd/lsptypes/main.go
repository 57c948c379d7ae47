package main

import (
	"fmt"
	"os"

	lsptypes "github.com/Mazyod/lsp-python-types"
)

func main() {
	if err := lsptypes.CLI(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: error: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}
