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
	"paxoslog/internal/learner"
	"paxoslog/internal/transport"
)

var learnerCmd = &cobra.Command{
	Use:   "learner [config] [id]",
	Short: "Run a learner process; decided values are written one per line to stdout",
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

		self, err := cfg.Self(config.RoleLearner, id)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		bus := transport.New(fmt.Sprintf("learner-%d", id))
		if err := bus.Listen(self.Addr); err != nil {
			fmt.Println("listen:", err)
			os.Exit(1)
		}
		defer bus.Close()

		l := learner.New(id, cfg, bus, os.Stdout, nil)

		if debugAddr != "" {
			dbg := debugserver.New(debugAddr)
			l.SetDebug(dbg)
			bus.SetDebug(dbg)
			go func() {
				if err := dbg.Start(); err != nil {
					log.Printf("[learner-%d] debug server: %v", id, err)
				}
			}()
		}

		log.Printf("[learner-%d] listening on %s", id, self.Addr)

		stop := make(chan struct{})
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		go func() {
			<-interrupt
			close(stop)
		}()

		go l.RunCatchup(stop)

		for {
			select {
			case env := <-bus.Incoming():
				l.Handle(env.Msg)
			case <-stop:
				return
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(learnerCmd)
	addDebugFlag(learnerCmd)
}
