// Command demo spins up a hub and a cohort of nodes in a single process
// and runs a short collective-communication walkthrough against them, to
// exercise the library end to end without needing separate hub/node
// processes.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstuartsmith/MPI/hub"
	"github.com/kstuartsmith/MPI/internal/obslog"
	"github.com/kstuartsmith/MPI/node"
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
	var nodeCount int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a self-contained hub+cohort walkthrough",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeCount <= 0 || nodeCount&(nodeCount-1) != 0 {
				return fmt.Errorf("demo: --nodes must be a power of two, got %d", nodeCount)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := obslog.New("demo", debug, os.Stdout)

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return fmt.Errorf("demo: listen: %w", err)
			}
			host, portStr, err := net.SplitHostPort(ln.Addr().String())
			if err != nil {
				return err
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return err
			}

			h := hub.New(nodeCount, log.With().Str("role", "hub").Logger())
			hubDone := make(chan error, 1)
			go func() { hubDone <- h.Serve(ctx, ln) }()

			nodes := make([]*node.Node, nodeCount)
			var wg sync.WaitGroup
			wg.Add(nodeCount)
			for i := 0; i < nodeCount; i++ {
				i := i
				go func() {
					defer wg.Done()
					nlog := log.With().Str("role", "node").Int("id", i).Logger()
					nd, err := node.Init(ctx, host, port, int64(i), nlog)
					if err != nil {
						nlog.Error().Err(err).Msg("node init failed")
						return
					}
					nodes[i] = nd
				}()
			}
			wg.Wait()

			log.Info().Int("nodes", nodeCount).Msg("cohort connected, running walkthrough")
			runWalkthrough(nodes)

			for _, nd := range nodes {
				if nd != nil {
					_ = nd.Terminate("demo complete")
				}
			}
			stop()
			<-hubDone
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().IntVar(&nodeCount, "nodes", 4, "cohort size, must be a power of two")
	return cmd
}

// runWalkthrough exercises Reduce, ReduceAll, and Barrier across the live
// cohort, printing results through the hub's Print service call.
func runWalkthrough(nodes []*node.Node) {
	n := len(nodes)
	var wg sync.WaitGroup
	wg.Add(n)
	for i, nd := range nodes {
		i, nd := i, nd
		go func() {
			defer wg.Done()
			if nd == nil {
				return
			}

			sum, err := node.Reduce(nd, 0, int64(i)+1, func(a, b int64) int64 { return a + b })
			if err == nil && nd.IAm == 0 {
				_ = nd.Print(fmt.Sprintf("sum of 1..%d = %d", n, sum))
			}

			total, err := node.ReduceAll(nd, 0, int64(i)+1, func(a, b int64) int64 { return a + b })
			if err == nil {
				_ = nd.Print(fmt.Sprintf("node %d sees reduce-all total = %d", nd.IAm, total))
			}

			if err := nd.Barrier(1); err != nil {
				_ = nd.Print(fmt.Sprintf("node %d barrier error: %v", nd.IAm, err))
			}
		}()
	}
	wg.Wait()
}
