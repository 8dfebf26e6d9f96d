package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"paxoslog/internal/acceptor"
	"paxoslog/internal/config"
	"paxoslog/internal/debugserver"
	"paxoslog/internal/transport"
)

var acceptorCmd = &cobra.Command{
	Use:   "acceptor [config] [id]",
	Short: "Run an acceptor process",
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

		self, err := cfg.Self(config.RoleAcceptor, id)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		bus := transport.New(fmt.Sprintf("acceptor-%d", id))
		if err := bus.Listen(self.Addr); err != nil {
			fmt.Println("listen:", err)
			os.Exit(1)
		}
		defer bus.Close()

		a := acceptor.New(id, cfg, bus)

		if debugAddr != "" {
			dbg := debugserver.New(debugAddr)
			a.SetDebug(dbg)
			bus.SetDebug(dbg)
			go func() {
				if err := dbg.Start(); err != nil {
					log.Printf("[acceptor-%d] debug server: %v", id, err)
				}
			}()
		}

		log.Printf("[acceptor-%d] listening on %s", id, self.Addr)

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		for {
			select {
			case env := <-bus.Incoming():
				a.Handle(env.Msg)
			case <-interrupt:
				return
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(acceptorCmd)
	addDebugFlag(acceptorCmd)
}
