// Command xtcdump is a small inspection tool for xtcsnap snapshot files:
// it replays a captured table through table.Handle and prints its chain
// and rule structure.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/table"
	"github.com/ledgerwatch/xtc/xtclog"
	"github.com/ledgerwatch/xtc/xtcsnap"
)

var log = xtclog.Root().New("cmd", "xtcdump")

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xtcdump",
		Short: "Inspect an xtcsnap-captured packet-filter table",
	}
	root.AddCommand(listCmd(), policyCmd())
	return root
}

func openHandle(path, tableName string) (*table.Handle, error) {
	tp, err := xtcsnap.Replay(path, tableName)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	h := table.New(tp, tableName, blob.FamilyIPv4)
	if err := h.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return h, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <snapshot.db> <table>",
		Short: "List every chain and rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHandle(args[0], args[1])
			if err != nil {
				return err
			}
			for c, ok := h.FirstChain(); ok; c, ok = h.NextChain() {
				fmt.Printf("chain %s (%s, refs=%d)\n", c.Name(), c.Kind(), c.References())
				for r, ok := h.FirstRule(c); ok; r, ok = h.NextRule() {
					cnt := r.Counters()
					fmt.Printf("  [%d] target=%s packets=%d bytes=%d\n", r.Index(), h.GetTarget(r), cnt.Packets, cnt.Bytes)
				}
			}
			return nil
		},
	}
}

func policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy <snapshot.db> <table> <chain>",
		Short: "Print a built-in chain's policy and counters",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHandle(args[0], args[1])
			if err != nil {
				return err
			}
			var target *table.Chain
			for c, ok := h.FirstChain(); ok; c, ok = h.NextChain() {
				if c.Name() == args[2] {
					target = c
					break
				}
			}
			if target == nil {
				return fmt.Errorf("no such chain %q", args[2])
			}
			policy, counters, err := h.GetPolicy(target)
			if err != nil {
				return err
			}
			fmt.Printf("%s policy=%s packets=%d bytes=%d\n", target.Name(), policy, counters.Packets, counters.Bytes)
			return nil
		},
	}
}
