// Command hub runs the coordinator process for a fixed-size cohort of
// nodes: listen on a TCP port, accept node connections, and run the hub's
// routing and control dispatch until shut down. The node count sizes the
// Init reply and the barrier counters; it does not cap how many
// connections are accepted.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kstuartsmith/MPI/hub"
	"github.com/kstuartsmith/MPI/internal/obslog"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "hub <port> <node-count>",
		Short: "Run the MPI coordinator process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("hub: invalid port %q: %w", args[0], err)
			}
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("hub: invalid node count %q", args[1])
			}

			log := obslog.New("hub", debug, os.Stdout)

			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err != nil {
				return fmt.Errorf("hub: listen: %w", err)
			}
			log.Info().Str("addr", ln.Addr().String()).Int("nodes", n).Msg("hub listening")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h := hub.New(n, log)
			err = h.Serve(ctx, ln)
			if err != nil && ctx.Err() == nil {
				return err
			}
			log.Info().Msg("hub shut down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}
