// frappy-go is a SECoP sample environment node.
//
// It serves configured modules over the SECoP line protocol and ships
// simulated demo modules so a node runs without hardware.
//
// Commands:
//
//	server  - Run a SEC node from a configuration file
//	client  - Open an interactive session to a SEC node
//	version - Print version information
package main

import (
	"fmt"
	"os"

	"github.com/SampleEnvironment/frappy-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
