package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/identity"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
)

func (c *cli) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for token signing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("generating key pair: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "IDENTITY_PUBLIC_KEY=%s\n", identity.EncodeKey(kp.Public))
			fmt.Fprintf(out, "IDENTITY_PRIVATE_KEY=%s\n", identity.EncodeKey(kp.Private))
			fmt.Fprintf(out, "# key id %s\n", identity.KeyID(kp.Public))
			return nil
		},
	}
}

func (c *cli) usersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage registry accounts",
	}

	var email string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			client, err := c.redis()
			if err != nil {
				return err
			}
			defer client.Close()
			user, err := identity.NewDirectory(client).AddUser(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("adding user: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.UID)
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "account email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.redis()
			if err != nil {
				return err
			}
			defer client.Close()
			all, err := identity.NewDirectory(client).ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing users: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UID\tEMAIL\tADMIN")
			for _, u := range all {
				fmt.Fprintf(w, "%s\t%s\t%t\n", u.UID, u.Email, u.Claims[identity.ClaimAdmin] == true)
			}
			return w.Flush()
		},
	}

	users.AddCommand(add, list)
	return users
}

func (c *cli) tokenCmd() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue identity tokens",
	}

	var (
		email string
		ttl   time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			priv, err := identity.LoadPrivateKey(c.v.GetString("private-key"))
			if err != nil {
				return err
			}
			client, err := c.redis()
			if err != nil {
				return err
			}
			defer client.Close()
			user, err := identity.NewDirectory(client).GetUserByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", email, err)
			}
			signed, err := identity.NewSigner(priv).Issue(user, ttl)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	issue.Flags().StringVar(&email, "email", "", "account email")
	issue.Flags().DurationVar(&ttl, "ttl", identity.DefaultTokenTTL, "token lifetime")

	token.AddCommand(issue)
	return token
}

// grantAdminCmd seeds the admin claim directly in the directory. It is the
// out-of-band bootstrap for the first administrator.
func (c *cli) grantAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant-admin <email>",
		Short: "Attach the admin claim to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.redis()
			if err != nil {
				return err
			}
			defer client.Close()
			if err := grantAdmin(cmd.Context(), identity.NewDirectory(client), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin role granted to %s\n", args[0])
			return nil
		},
	}
}

func grantAdmin(ctx context.Context, dir *identity.Directory, email string) error {
	user, err := dir.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", email, err)
	}
	if _, err := dir.MergeCustomClaims(ctx, user.UID, map[string]any{identity.ClaimAdmin: true}); err != nil {
		return fmt.Errorf("setting claims: %w", err)
	}
	logging.Info("registryctl", "admin role granted", "uid", user.UID)
	return nil
}

func (c *cli) submissionsCmd() *cobra.Command {
	subs := &cobra.Command{
		Use:   "submissions",
		Short: "Inspect submissions",
	}

	var (
		statusFilter string
		limit        int64
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List submissions newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := registry.ListFilter{Limit: limit}
			if statusFilter != "" {
				st, ok := registry.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				filter.Status = st
			}
			client, err := c.redis()
			if err != nil {
				return err
			}
			defer client.Close()
			items, err := registry.NewRedisStore(client).ListSubmissions(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("listing submissions: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tREPO\tSUBMITTED BY\tMESSAGE")
			for _, s := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, s.RepoURL, s.SubmittedByEmail, s.StatusMessage)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, approved, rejected, error)")
	list.Flags().Int64Var(&limit, "limit", 50, "Maximum rows")

	subs.AddCommand(list)
	return subs
}
