package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"paxoslog/internal/client"
	"paxoslog/internal/config"
	"paxoslog/internal/transport"
)

var clientCmd = &cobra.Command{
	Use:   "client [config] [id]",
	Short: "Submit one value per stdin line, print DONE once all are decided",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Println("invalid id:", err)
			os.Exit(1)
		}

		cfg, err := config.Load(args[0])
		if err != nil {
			fmt.Println("loading config:", err)
			os.Exit(1)
		}

		self, err := cfg.Self(config.RoleClient, id)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		bus := transport.New(fmt.Sprintf("client-%d", id))
		if err := bus.Listen(self.Addr); err != nil {
			fmt.Println("listen:", err)
			os.Exit(1)
		}
		defer bus.Close()

		log.Printf("[client-%d] listening on %s", id, self.Addr)

		c := client.New(id, cfg, bus)
		if !c.Run(os.Stdin, os.Stdout, nil) {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)
}
