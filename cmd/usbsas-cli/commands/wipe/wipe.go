// Package wipe implements `usbsas-cli wipe`: securely erasing a
// destination USB device.
package wipe

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/cmd/usbsas-cli/cmdutil"
	"github.com/marmos91/usbsas/internal/cli/prompt"
)

var (
	fingerprint string
	fsFormat    string
	quick       bool
	force       bool
)

// Cmd wipes the destination device named by --fingerprint. Destructive and
// irreversible, so it asks for typed confirmation unless --force is set.
var Cmd = &cobra.Command{
	Use:   "wipe",
	Short: "Securely erase a destination device",
	RunE:  runWipe,
}

func init() {
	Cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "destination device fingerprint (required)")
	Cmd.Flags().StringVar(&fsFormat, "fs-format", "fat32", "filesystem rebuilt on the device (fat32, exfat, ntfs)")
	Cmd.Flags().BoolVar(&quick, "quick", false, "skip the full-device overwrite pass, only rebuild the filesystem")
	Cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	_ = Cmd.MarkFlagRequired("fingerprint")
}

func runWipe(cmd *cobra.Command, args []string) error {
	if !force {
		ok, err := prompt.ConfirmDanger(fmt.Sprintf("This will permanently erase device %s", fingerprint), fingerprint)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	client, err := cmdutil.Client()
	if err != nil {
		return err
	}
	ch, err := client.Wipe(fingerprint, fsFormat, quick)
	if err != nil {
		return fmt.Errorf("start wipe: %w", err)
	}
	return cmdutil.DrainProgress(ch)
}
