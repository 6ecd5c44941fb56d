// Command dispatch runs the Research Rewind batch dispatcher, either as a
// long-lived HTTP service or as a one-shot invocation.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
