package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"paxoslog/internal/config"
	"paxoslog/internal/debugserver"
	"paxoslog/internal/proposer"
	"paxoslog/internal/transport"
)

var proposerCmd = &cobra.Command{
	Use:   "proposer [config] [id]",
	Short: "Run a proposer process",
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

		self, err := cfg.Self(config.RoleProposer, id)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		bus := transport.New(fmt.Sprintf("proposer-%d", id))
		if err := bus.Listen(self.Addr); err != nil {
			fmt.Println("listen:", err)
			os.Exit(1)
		}
		defer bus.Close()

		p := proposer.New(id, cfg, bus)

		if debugAddr != "" {
			dbg := debugserver.New(debugAddr)
			p.SetDebug(dbg)
			bus.SetDebug(dbg)
			go func() {
				if err := dbg.Start(); err != nil {
					log.Printf("[proposer-%d] debug server: %v", id, err)
				}
			}()
		}

		log.Printf("[proposer-%d] listening on %s", id, self.Addr)

		stop := make(chan struct{})
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		go func() {
			<-interrupt
			close(stop)
		}()

		p.Run(stop)
	},
}

func init() {
	rootCmd.AddCommand(proposerCmd)
	addDebugFlag(proposerCmd)
}
