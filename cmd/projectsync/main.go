// Command projectsync follows a generated project live over the backend's
// websocket, falling back to HTTP polling while the connection is down.
//
// Sub-commands:
//
//	projectsync login              Authenticate and save a token
//	projectsync logout             Remove the saved token
//	projectsync watch              Observe tree, open file and status live
//	projectsync tree               Print the project tree
//	projectsync cat <path>         Print a file's content
//	projectsync save <path> [src]  Replace a file's content
//	projectsync terminal           Attach to the project terminal
//	projectsync cache              Show or clear the local cache
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
