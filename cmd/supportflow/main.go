// Command supportflow runs product support conversations in the terminal and
// reports on the session log.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "supportflow: %v\n", err)
		os.Exit(1)
	}
}
