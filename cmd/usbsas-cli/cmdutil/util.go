// Package cmdutil holds the flag state and output helpers shared by every
// usbsas-cli subcommand.
package cmdutil

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/usbsas/internal/cli/output"
	"github.com/marmos91/usbsas/internal/cli/prompt"
	"github.com/marmos91/usbsas/pkg/apiclient"
)

// Flags holds the global flag values set by the root command's
// PersistentFlags, read by every subcommand.
var Flags = &GlobalFlags{}

// GlobalFlags mirrors the root command's persistent flag set. There is no
// credential store to fall back to: usbsas-cli authenticates admin routes
// with a single static bearer token, supplied by flag or environment
// variable, not a login/refresh-token session.
type GlobalFlags struct {
	ServerURL  string
	AdminToken string
	SessionID  string
	Output     string
	NoColor    bool
}

// Client builds an apiclient.Client from the current flag state, resolving
// --server/--admin-token against their USBSAS_SERVER/USBSAS_ADMIN_TOKEN
// environment fallbacks.
func Client() (*apiclient.Client, error) {
	server := Flags.ServerURL
	if server == "" {
		server = os.Getenv("USBSAS_SERVER")
	}
	if server == "" {
		return nil, fmt.Errorf("no server URL: pass --server or set USBSAS_SERVER")
	}

	client := apiclient.New(server)

	token := Flags.AdminToken
	if token == "" {
		token = os.Getenv("USBSAS_ADMIN_TOKEN")
	}
	if token != "" {
		client = client.WithAdminToken(token)
	}

	if Flags.SessionID != "" {
		client = client.WithSession(Flags.SessionID)
	}

	return client, nil
}

func outputFormat() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintResource renders a single resource or list: JSON/YAML marshal data
// directly, table format defers to tableRenderer.
func PrintResource(w io.Writer, data any, tableRenderer output.TableRenderer) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintEmptyOr is PrintResource but prints emptyMsg instead of an
// empty table when isEmpty, since an empty tablewriter table still renders
// a (blank) header row.
func PrintEmptyOr(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatTable && isEmpty {
		_, _ = fmt.Fprintln(w, emptyMsg)
		return nil
	}
	return PrintResource(w, data, tableRenderer)
}

// PrintSuccess writes a green success line, but only in table format —
// JSON/YAML output is meant to be piped and stays free of narration.
func PrintSuccess(msg string) {
	format, err := outputFormat()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, format, !Flags.NoColor).Success(msg)
}

// HandleAbort turns a user-initiated Ctrl+C into a quiet nil return instead
// of an error exit.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}

// BoolMark renders a boolean as a table-friendly mark.
func BoolMark(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
