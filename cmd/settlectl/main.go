// Command settlectl runs settlement maintenance from the shell: storage fee
// passes, payment record sweeps, balance lookups, service tokens and test
// signatures.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
