package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrpworks/mrp-auth/internal/bootstrap"
	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/session"
)

func (a *app) loginCmd() *cobra.Command {
	var (
		email         string
		password      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password and store the session.

Examples:
  mrp-authctl login --email admin@example.com --password-stdin < pw.txt
  mrp-authctl login --email admin@example.com --password admin123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			if passwordStdin {
				pw, err := readLine(a.in)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = pw
			}
			if password == "" {
				return errors.New("--password or --password-stdin is required")
			}

			ctx := cmd.Context()
			m, err := a.startManager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			if u := m.User(); u != nil {
				if !strings.EqualFold(u.Email, strings.TrimSpace(email)) {
					return fmt.Errorf("already signed in as %s; run logout first", u.Email)
				}
				_, err = fmt.Fprintf(a.out, "Already signed in as %s (%s)\n", u.Email, u.Role)
				return err
			}

			user, err := m.Login(ctx, email, password)
			if err != nil {
				return describeAuthError(err)
			}
			_, err = fmt.Fprintf(a.out, "Signed in as %s (%s)\n", user.Email, user.Role)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (visible in shell history)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			if err := a.backend.Logout(ctx); err != nil {
				a.logger.WarnContext(ctx, "remote logout failed; local session cleared", "error", err)
			}
			_, err := fmt.Fprintln(a.out, "Signed out")
			return err
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			user, err := a.backend.GetCurrentUser(ctx)
			if err != nil {
				if apperrors.IsUnauthorized(err) {
					if cerr := a.store.Clear(ctx); cerr != nil {
						a.logger.WarnContext(ctx, "clear rejected session", "error", cerr)
					}
				}
				return describeAuthError(err)
			}
			if user == nil {
				_, err = fmt.Fprintln(a.out, "Not signed in")
				return err
			}
			if output == "json" {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(user)
			}
			return printUser(a.out, user)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Resolve the stored session and print the auth state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.startManager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()
			return printSnapshot(a.out, m.Snapshot(), time.Now())
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow auth state changes made by other processes sharing the token store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := a.startManager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			changes := m.Changes(ctx)
			if err := printSnapshot(a.out, m.Snapshot(), time.Now()); err != nil {
				return err
			}
			for snap := range changes {
				if snap.Loading {
					continue
				}
				if err := printSnapshot(a.out, snap, time.Now()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its Argon2id hash",
		Long: `Read a password from stdin and print its PHC-encoded Argon2id hash,
using the AUTH_LOCAL_ARGON2_* cost parameters. Useful for seeding users by hand.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			pw, err := readLine(a.in)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if pw == "" {
				return errors.New("password must not be empty")
			}
			hash, err := bootstrap.NewHasher(a.cfg.Auth.Local).Hash(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, hash)
			return err
		},
	}
}

// readLine returns the first line of r without its line ending.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printUser(w io.Writer, u *domainauth.User) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", u.ID},
		{"Email", u.Email},
		{"Role", string(u.Role)},
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		rows = append(rows, [2]string{"Name", name})
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printSnapshot(w io.Writer, s session.Snapshot, now time.Time) error {
	line := "state=" + s.State.String()
	if s.User != nil {
		line += fmt.Sprintf(" user=%s role=%s", s.User.Email, s.User.Role)
	}
	if s.Session != nil && s.Session.ExpiresAt != nil {
		line += " expires_in=" + s.Session.ExpiresAt.Sub(now).Round(time.Second).String()
	}
	if s.Err != nil {
		line += fmt.Sprintf(" error=%q", apperrors.UserMessage(s.Err))
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// describeAuthError turns the auth taxonomy into the messages a terminal user needs.
func describeAuthError(err error) error {
	switch {
	case apperrors.IsInvalidCredentials(err):
		return errors.New("invalid email or password")
	case apperrors.IsUnauthorized(err):
		return errors.New("session expired or revoked; sign in again")
	case apperrors.IsForbidden(err):
		return errors.New("account has no role in this application")
	case apperrors.IsNetwork(err):
		return fmt.Errorf("auth backend unreachable: %w", err)
	case apperrors.IsServer(err):
		return fmt.Errorf("%w; try again later", err)
	default:
		return err
	}
}
