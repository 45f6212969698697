// Command activationserver runs the PowerAuth-style activation
// server: a gRPC-less RPC facade backed by a pluggable store, fronted
// by the same cobra command layout the teacher's cmd/dex uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commandRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activationserver",
		Short: "Strong customer authentication activation server",
	}
	cmd.AddCommand(commandServe())
	cmd.AddCommand(commandVersion())
	return cmd
}
