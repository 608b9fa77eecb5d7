// Package admin implements `usbsas-cli admin`: the operator-facing surface
// over live session listing/force-teardown and the persisted audit trail
//. Every call requires --admin-token.
package admin

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/usbsas/cmd/usbsas-cli/cmdutil"
	"github.com/marmos91/usbsas/internal/cli/prompt"
	"github.com/marmos91/usbsas/pkg/apiclient"
	"github.com/marmos91/usbsas/pkg/auth"
)

// Cmd is the parent command for admin-only operations.
var Cmd = &cobra.Command{
	Use:   "admin",
	Short: "Admin-only session and audit operations",
}

func init() {
	Cmd.AddCommand(sessionsCmd)
	Cmd.AddCommand(activityCmd)
	Cmd.AddCommand(tokenIssueCmd)
	Cmd.AddCommand(passwordHashCmd)
}

var (
	tokenSecret   string
	tokenOperator string
	tokenTTL      time.Duration
)

// tokenIssueCmd mints an admin bearer token offline, from the same HMAC
// secret usbsas-server was started with (--admin-secret / USBSAS_ADMIN_SECRET).
// The alternative is the server's password login route, mounted when it was
// also given --admin-password-hash; this command covers deployments that
// keep the secret client-side instead.
var tokenIssueCmd = &cobra.Command{
	Use:   "token-issue",
	Short: "Mint an admin bearer token from the server's HMAC secret",
	Long: `Mint an admin bearer token from the server's HMAC secret.

This never talks to the network: the secret that signs usbsas-server's
admin JWTs (USBSAS_ADMIN_SECRET) is all that's needed to mint a token
the running server will accept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("USBSAS_ADMIN_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("no admin secret: pass --secret or set USBSAS_ADMIN_SECRET")
		}
		svc, err := auth.NewAdminJWTService(auth.AdminJWTConfig{Secret: secret, TokenDuration: tokenTTL})
		if err != nil {
			return fmt.Errorf("build admin JWT service: %w", err)
		}
		token, expiresAt, err := svc.Issue(tokenOperator)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(os.Stdout, token)
		cmdutil.PrintSuccess(fmt.Sprintf("expires %s", expiresAt.Format(time.RFC3339)))
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSecret, "secret", "", "admin HMAC secret (default: USBSAS_ADMIN_SECRET)")
	tokenIssueCmd.Flags().StringVar(&tokenOperator, "operator", "cli", "operator name recorded in the token's subject claim")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}

// passwordHashCmd generates the bcrypt hash usbsas-server expects in
// --admin-password-hash / USBSAS_ADMIN_PASSWORD_HASH. The password is read
// from a hidden prompt, never from argv.
var passwordHashCmd = &cobra.Command{
	Use:   "password-hash",
	Short: "Generate the bcrypt hash for the server's admin login route",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := prompt.Password("Admin password")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		fmt.Fprintln(os.Stdout, hash)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, terminate, and inspect the history of live sessions",
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsTerminateCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
}

type sessionList []apiclient.SessionSummary

func (s sessionList) Headers() []string { return []string{"ID", "STATE", "CREATED"} }

func (s sessionList) Rows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, sess := range s {
		rows = append(rows, []string{sess.ID, sess.State, sess.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	return rows
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every live session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		list, err := client.ListSessions()
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		return cmdutil.PrintEmptyOr(os.Stdout, list, len(list) == 0, "no live sessions", sessionList(list))
	},
}

var terminateForce bool

var sessionsTerminateCmd = &cobra.Command{
	Use:   "terminate <session-id>",
	Short: "Force-tear-down a session's worker pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !terminateForce {
			ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Terminate session %q?", id), false)
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
		if err := client.TerminateSession(id); err != nil {
			return fmt.Errorf("terminate session: %w", err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("session %q terminated", id))
		return nil
	},
}

func init() {
	sessionsTerminateCmd.Flags().BoolVar(&terminateForce, "force", false, "skip the confirmation prompt")
}

type auditRecordList []apiclient.AuditRecord

func (a auditRecordList) Headers() []string {
	return []string{"SESSION", "OPERATION", "DESTINATION", "OUTCOME", "BYTES", "STARTED"}
}

func (a auditRecordList) Rows() [][]string {
	rows := make([][]string, 0, len(a))
	for _, rec := range a {
		rows = append(rows, []string{
			rec.SessionID,
			rec.Operation,
			rec.Destination,
			rec.Outcome,
			strconv.FormatUint(rec.BytesTransferred, 10),
			rec.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the persisted audit trail for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		records, err := client.SessionHistory(args[0])
		if err != nil {
			return fmt.Errorf("session history: %w", err)
		}
		return cmdutil.PrintEmptyOr(os.Stdout, records, len(records) == 0, "no audit records for this session", auditRecordList(records))
	},
}

var activityLimit int

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show the most recent audit records across every session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client()
		if err != nil {
			return err
		}
		records, err := client.RecentActivity(activityLimit)
		if err != nil {
			return fmt.Errorf("recent activity: %w", err)
		}
		return cmdutil.PrintEmptyOr(os.Stdout, records, len(records) == 0, "no audit records yet", auditRecordList(records))
	},
}

func init() {
	activityCmd.Flags().IntVar(&activityLimit, "limit", 50, "max records to return")
}
