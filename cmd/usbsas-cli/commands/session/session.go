// Package session implements `usbsas-cli session`: session lifecycle
// (create/reset) and the partition/directory browsing operations that
// precede a copy.
package session

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/cmd/usbsas-cli/cmdutil"
	"github.com/marmos91/usbsas/pkg/apiclient"
)

// Cmd is the parent command for session lifecycle and browsing.
var Cmd = &cobra.Command{
	Use:   "session",
	Short: "Create, reset, and browse a usbsas session",
}

func init() {
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(resetCmd)
	Cmd.AddCommand(partitionsCmd)
	Cmd.AddCommand(openPartitionCmd)
	Cmd.AddCommand(lsCmd)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Spawn a new worker pipeline and print its session id",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		scoped, err := client.CreateSession()
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintln(os.Stdout, scoped.SessionID())
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Tear down and respawn the current session's worker pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		scoped, err := client.Reset()
		if err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		fmt.Fprintln(os.Stdout, scoped.SessionID())
		return nil
	},
}

type partitionList []apiclient.Partition

func (p partitionList) Headers() []string {
	return []string{"INDEX", "NAME", "SIZE", "TYPE", "START"}
}

func (p partitionList) Rows() [][]string {
	rows := make([][]string, 0, len(p))
	for _, part := range p {
		rows = append(rows, []string{
			strconv.Itoa(part.Index),
			part.Name,
			fmt.Sprintf("%d", part.SizeBytes),
			part.TypeString,
			fmt.Sprintf("%d", part.StartOffset),
		})
	}
	return rows
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List the selected source device's partitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		parts, err := client.Partitions()
		if err != nil {
			return fmt.Errorf("list partitions: %w", err)
		}
		return cmdutil.PrintEmptyOr(os.Stdout, parts, len(parts) == 0, "no partitions found", partitionList(parts))
	},
}

var openPartitionCmd = &cobra.Command{
	Use:   "open-partition <index>",
	Short: "Open a partition for browsing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid partition index %q", args[0])
		}
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		if err := client.OpenPartition(idx); err != nil {
			return fmt.Errorf("open partition: %w", err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("partition %d opened", idx))
		return nil
	},
}

type entryList []apiclient.Entry

func (e entryList) Headers() []string { return []string{"TOKEN", "DIR", "SIZE"} }

func (e entryList) Rows() [][]string {
	rows := make([][]string, 0, len(e))
	for _, ent := range e {
		rows = append(rows, []string{ent.Token, cmdutil.BoolMark(ent.IsDir()), fmt.Sprintf("%d", ent.Size)})
	}
	return rows
}

var lsParent string

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List directory entries under the open partition",
	Long: `List directory entries under the open partition.

Without --parent, lists the partition root. Each entry's token is an
opaque, session-scoped path reference to pass to 'usbsas-cli copy'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		entries, err := client.ReadDir(lsParent)
		if err != nil {
			return fmt.Errorf("read dir: %w", err)
		}
		return cmdutil.PrintEmptyOr(os.Stdout, entries, len(entries) == 0, "empty directory", entryList(entries))
	},
}

func init() {
	lsCmd.Flags().StringVar(&lsParent, "parent", "", "parent directory token (root if omitted)")
}
