// Package copy implements `usbsas-cli copy`, streaming the progress of a
// copy operation to stdout.
package copy

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/cmd/usbsas-cli/cmdutil"
)

var (
	tokens   string
	fsFormat string
)

// Cmd copies the given tokens (from 'session ls') to the session's
// selected destination.
var Cmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy selected files/directories to the destination",
	Long: `Copy selected files/directories to the destination.

--tokens is a comma-separated list of path tokens returned by
'usbsas-cli session ls'. --fs only matters for a USB destination.`,
	RunE: runCopy,
}

func init() {
	Cmd.Flags().StringVar(&tokens, "tokens", "", "comma-separated path tokens to copy (required)")
	Cmd.Flags().StringVar(&fsFormat, "fs", "ntfs", "destination filesystem for a USB target (fat32, exfat, ntfs)")
	_ = Cmd.MarkFlagRequired("tokens")
}

func runCopy(cmd *cobra.Command, args []string) error {
	list := splitTokens(tokens)
	if len(list) == 0 {
		return fmt.Errorf("--tokens must name at least one path token")
	}

	client, err := cmdutil.Client()
	if err != nil {
		return err
	}
	ch, err := client.Copy(list, fsFormat)
	if err != nil {
		return fmt.Errorf("start copy: %w", err)
	}
	return cmdutil.DrainProgress(ch)
}

func splitTokens(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
