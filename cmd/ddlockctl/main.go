// cmd/ddlockctl is a Cobra CLI for operators to drive a ddlockd node's
// admin API by hand: acquire/release locks, check status, and manage
// cluster membership.
//
// Usage:
//
//	ddlockctl acquire 16384 ddl_lock    --server http://localhost:8080
//	ddlockctl release 16384             --server http://localhost:8080
//	ddlockctl status 16384              --server http://localhost:8080
//	ddlockctl nodes list                --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"distributed-ddlock/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "ddlockctl",
		Short: "CLI client for the distributed DDL lock daemon",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "ddlockd admin address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(acquireCmd(), releaseCmd(), statusCmd(), nodesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func acquireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "acquire <dbid> <ddl_lock|write_lock>",
		Short: "Acquire the global lock on a database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbid, err := parseDBID(args[0])
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			resp, err := c.Acquire(context.Background(), dbid, args[1])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <dbid>",
		Short: "Release whatever lock this node holds on a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbid, err := parseDBID(args[0])
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			if err := c.Release(context.Background(), dbid); err != nil {
				return err
			}
			fmt.Printf("released dbid %d\n", dbid)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <dbid>",
		Short: "Show the current lock snapshot for a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbid, err := parseDBID(args[0])
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			resp, err := c.Status(context.Background(), dbid)
			if err == client.ErrNoLockState {
				fmt.Printf("no lock state for dbid %d\n", dbid)
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func nodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Cluster membership commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all known peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			nodes, err := c.Nodes(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(nodes)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "join <sysid> <timeline> <dbid> <address>",
		Short: "Register a peer node",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			sysid, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			timeline, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return err
			}
			dbid, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			return c.JoinCluster(context.Background(), sysid, uint32(timeline), uint32(dbid), args[3])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "leave <sysid>",
		Short: "Remove a peer node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sysid, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			return c.LeaveCluster(context.Background(), sysid)
		},
	})

	return cmd
}

func parseDBID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid dbid %q: %w", s, err)
	}
	return uint32(v), nil
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
