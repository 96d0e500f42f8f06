package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/ringcoord/internal/adminapi"
)

var gossipCmd = &cobra.Command{
	Use:   "gossip",
	Short: "Inspect gossip-visible membership",
}

var gossipStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List every endpoint the contacted node currently knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		out, err := adminapi.NewClient(addr).GossipStatus(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%-22s %-10s %-7s %s\n", "ADDRESS", "STATUS", "ALIVE", "GENERATION")
		for _, ep := range out.Endpoints {
			fmt.Printf("%-22s %-10s %-7t %d\n", ep.Address, ep.Status, ep.Alive, ep.Generation)
		}
		return nil
	},
}

func init() {
	gossipStatusCmd.Flags().String("addr", "127.0.0.1:8500", "Admin address of the node to contact")
	gossipCmd.AddCommand(gossipStatusCmd)
}
