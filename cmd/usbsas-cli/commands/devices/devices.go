// Package devices implements `usbsas-cli devices`: listing and selecting
// the source/destination devices for a session.
package devices

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/cmd/usbsas-cli/cmdutil"
	"github.com/marmos91/usbsas/internal/cli/prompt"
	"github.com/marmos91/usbsas/pkg/apiclient"
)

// Cmd is the parent command for device inspection and selection.
var Cmd = &cobra.Command{
	Use:   "devices",
	Short: "List and select source/destination devices",
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(selectCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices visible to the session",
	RunE:  runList,
}

// deviceList renders []apiclient.Device as a table.
type deviceList []apiclient.Device

func (d deviceList) Headers() []string {
	return []string{"ID", "TYPE", "MANUFACTURER", "DESCRIPTION", "SRC", "DST"}
}

func (d deviceList) Rows() [][]string {
	rows := make([][]string, 0, len(d))
	for _, dev := range d {
		manufacturer := ""
		if dev.Dev.Usb != nil {
			manufacturer = dev.Dev.Usb.Manufacturer
		}
		rows = append(rows, []string{
			dev.ID,
			dev.DevType,
			manufacturer,
			dev.Description(),
			cmdutil.BoolMark(dev.IsSrc),
			cmdutil.BoolMark(dev.IsDst),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}
	list, err := client.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	return cmdutil.PrintEmptyOr(os.Stdout, list, len(list) == 0, "no devices found", deviceList(list))
}

var (
	selectSrc string
	selectDst string
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select the source and destination device for this session",
	Long: `Select the source and destination device for this session.

Source and destination are resolved by fingerprint, returned by
'devices list'. If either is omitted, an interactive picker is shown.`,
	RunE: runSelect,
}

func init() {
	selectCmd.Flags().StringVar(&selectSrc, "src", "", "source device fingerprint")
	selectCmd.Flags().StringVar(&selectDst, "dst", "", "destination device fingerprint")
}

func runSelect(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client()
	if err != nil {
		return err
	}

	src, dst := selectSrc, selectDst
	if src == "" || dst == "" {
		list, err := client.ListDevices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		if src == "" {
			src, err = pickFingerprint(list, func(d apiclient.Device) bool { return d.IsSrc })
			if err != nil {
				return cmdutil.HandleAbort(err)
			}
		}
		if dst == "" {
			dst, err = pickFingerprint(list, func(d apiclient.Device) bool { return d.IsDst })
			if err != nil {
				return cmdutil.HandleAbort(err)
			}
		}
	}

	if err := client.SelectDevice(src, dst); err != nil {
		return fmt.Errorf("select device: %w", err)
	}
	cmdutil.PrintSuccess(fmt.Sprintf("selected src=%s dst=%s", src, dst))
	return nil
}

func pickFingerprint(list []apiclient.Device, eligible func(apiclient.Device) bool) (string, error) {
	var opts []prompt.SelectOption
	for _, d := range list {
		if !eligible(d) {
			continue
		}
		manufacturer := ""
		if d.Dev.Usb != nil {
			manufacturer = d.Dev.Usb.Manufacturer
		}
		opts = append(opts, prompt.SelectOption{
			Label:       fmt.Sprintf("%s (%s, %s)", d.Description(), d.DevType, d.ID),
			Value:       d.ID,
			Description: manufacturer,
		})
	}
	if len(opts) == 0 {
		return "", fmt.Errorf("no eligible device found")
	}
	return prompt.Select("Pick a device", opts)
}
