package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/ringcoord/internal/adminapi"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage ring members that can no longer act for themselves",
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove HOST-ID",
	Short: "Coordinate removing a dead node's tokens on its behalf",
	Long: `remove runs the operator-initiated REMOVE_TOKEN sequence for a node
that is down and cannot decommission itself: it announces
REMOVING_TOKEN/REMOVED_TOKEN on the dead node's behalf and waits for live
replicas to acknowledge they've re-replicated its data, unless --force
skips that wait.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		ks, _ := cmd.Flags().GetStringSlice("keyspace")
		force, _ := cmd.Flags().GetBool("force")

		hostID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse host-id: %w", err)
		}
		if err := adminapi.NewClient(addr).RemoveNode(context.Background(), hostID, ks, force); err != nil {
			return err
		}
		fmt.Println("node removed")
		return nil
	},
}

func init() {
	nodeRemoveCmd.Flags().String("addr", "127.0.0.1:8500", "Admin address of the node to contact")
	nodeRemoveCmd.Flags().StringSlice("keyspace", nil, "Keyspaces the operation applies to (repeatable)")
	nodeRemoveCmd.Flags().Bool("force", false, "Skip waiting for REPLICATION_FINISHED acks")

	nodeCmd.AddCommand(nodeRemoveCmd)
}
