// Package imgdisk implements `usbsas-cli imgdisk`: dumping a source
// device's raw sectors to the destination.
package imgdisk

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/cmd/usbsas-cli/cmdutil"
)

var fingerprint string

// Cmd images the source device named by --fingerprint.
var Cmd = &cobra.Command{
	Use:   "imgdisk",
	Short: "Image a source device's raw sectors to the destination",
	RunE:  runImgDisk,
}

func init() {
	Cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "source device fingerprint (required)")
	_ = Cmd.MarkFlagRequired("fingerprint")
}

func runImgDisk(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}
	ch, err := client.ImageDisk(fingerprint)
	if err != nil {
		return fmt.Errorf("start imgdisk: %w", err)
	}
	return cmdutil.DrainProgress(ch)
}
