// Command rtltcp streams I/Q samples from an rtl_tcp server, browses for
// servers on the local network and manages the stored client settings.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
