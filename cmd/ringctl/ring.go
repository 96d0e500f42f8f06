package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/ringcoord/internal/adminapi"
	"github.com/cuemby/ringcoord/internal/token"
)

var ringCmd = &cobra.Command{
	Use:   "ring",
	Short: "Inspect and drive this cluster's ring topology",
}

var ringStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local node's mode and ring-wide endpoint/pending-range counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		status, err := adminapi.NewClient(addr).RingStatus(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Mode: %s\n", status.Mode)
		fmt.Println("Endpoints by status:")
		for s, n := range status.EndpointCounts {
			fmt.Printf("  %-12s %d\n", s, n)
		}
		fmt.Println("Pending ranges by keyspace:")
		for ks, n := range status.PendingRangeCounts {
			fmt.Printf("  %-12s %d\n", ks, n)
		}
		return nil
	},
}

var ringDecommissionCmd = &cobra.Command{
	Use:   "decommission",
	Short: "Leave the ring, streaming owned ranges out to their new owners",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		ks, _ := cmd.Flags().GetStringSlice("keyspace")
		if err := adminapi.NewClient(addr).Decommission(context.Background(), ks); err != nil {
			return err
		}
		fmt.Println("decommission complete")
		return nil
	},
}

var ringMoveCmd = &cobra.Command{
	Use:   "move TOKEN",
	Short: "Relocate this node's single owned token to TOKEN (hex-encoded)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		ks, _ := cmd.Flags().GetStringSlice("keyspace")
		b, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("parse token: %w", err)
		}
		tok := token.FromWire(b)
		if err := adminapi.NewClient(addr).Move(context.Background(), tok, ks); err != nil {
			return err
		}
		fmt.Println("move complete")
		return nil
	},
}

var ringRebuildCmd = &cobra.Command{
	Use:   "rebuild --source-dc DC",
	Short: "Stream ranges in from an already-replicated datacenter",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		ks, _ := cmd.Flags().GetStringSlice("keyspace")
		sourceDC, _ := cmd.Flags().GetString("source-dc")
		if sourceDC == "" {
			return fmt.Errorf("--source-dc is required")
		}
		if err := adminapi.NewClient(addr).Rebuild(context.Background(), sourceDC, ks); err != nil {
			return err
		}
		fmt.Println("rebuild complete")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ringStatusCmd, ringDecommissionCmd, ringMoveCmd, ringRebuildCmd} {
		c.Flags().String("addr", "127.0.0.1:8500", "Admin address of the node to contact")
	}
	for _, c := range []*cobra.Command{ringDecommissionCmd, ringMoveCmd, ringRebuildCmd} {
		c.Flags().StringSlice("keyspace", nil, "Keyspaces the operation applies to (repeatable)")
	}
	ringRebuildCmd.Flags().String("source-dc", "", "Datacenter to stream ranges from (required)")

	ringCmd.AddCommand(ringStatusCmd)
	ringCmd.AddCommand(ringDecommissionCmd)
	ringCmd.AddCommand(ringMoveCmd)
	ringCmd.AddCommand(ringRebuildCmd)
}
