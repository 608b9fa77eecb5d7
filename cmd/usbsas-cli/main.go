// Command usbsas-cli is the operator's command-line front-end to a running
// usbsas-server: device selection, copy/wipe/imgdisk, and (with an admin
// token) live session management and audit history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/cmd/usbsas-cli/cmdutil"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/admin"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/configcmd"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/copy"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/devices"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/imgdisk"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/logs"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/session"
	"github.com/marmos91/usbsas/cmd/usbsas-cli/commands/wipe"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:     "usbsas-cli",
	Short:   "Operate a usbsas front-end session controller",
	Version: fmt.Sprintf("%s (%s)", version, commit),
	Long: `usbsas-cli talks to a running usbsas-server over its HTTP API.

Typical flow:
  usbsas-cli session create
  usbsas-cli devices list
  usbsas-cli devices select --src <fp> --dst <fp>
  usbsas-cli session partitions
  usbsas-cli session open-partition 0
  usbsas-cli session ls
  usbsas-cli copy --tokens <t1>,<t2>

Every session-scoped command needs --session (the id printed by
'session create'), or USBSAS_SESSION in the environment.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.ServerURL, "server", os.Getenv("USBSAS_SERVER"), "usbsas-server base URL")
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.AdminToken, "admin-token", os.Getenv("USBSAS_ADMIN_TOKEN"), "admin bearer token, required for 'admin' commands")
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.SessionID, "session", os.Getenv("USBSAS_SESSION"), "session id, required for session-scoped commands")
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(session.Cmd)
	rootCmd.AddCommand(devices.Cmd)
	rootCmd.AddCommand(copy.Cmd)
	rootCmd.AddCommand(wipe.Cmd)
	rootCmd.AddCommand(imgdisk.Cmd)
	rootCmd.AddCommand(admin.Cmd)
	rootCmd.AddCommand(logs.Cmd)
	rootCmd.AddCommand(configcmd.Cmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "usbsas-cli:", err)
		os.Exit(1)
	}
}
