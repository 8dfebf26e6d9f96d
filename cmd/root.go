package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "paxoslog",
	Short: "A multi-decree Paxos replicated log",
	Long:  `paxoslog runs one role of a multi-decree Paxos cluster: acceptor, proposer, learner, or client.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// debugAddr is shared by every protocol-role subcommand; the client has no
// internal state transitions worth publishing and does not declare it.
var debugAddr string

func addDebugFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "optional address to serve a live state-transition feed on")
}
