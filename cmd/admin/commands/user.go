package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Jun20220703/bit216as/internal/config"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/spf13/cobra"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect and recover user accounts",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(_ *config.Config, st store.Store) error {
				users, err := st.List(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("list users: %w", err)
				}
				if len(users) == 0 {
					a.out.Info("No users found\n")
					return nil
				}
				w := tabwriter.NewWriter(a.out.Out(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "EMAIL\tNAME\t2FA\tCREATED")
				for _, u := range users {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", u.Email, u.Name, u.TwoFactorEnabled, u.CreatedAt.UTC().Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of users to list")

	show := &cobra.Command{
		Use:   "show <email>",
		Short: "Show a user and the state of each verification slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(_ *config.Config, st store.Store) error {
				user, err := a.findUser(cmd, st, args[0])
				if err != nil {
					return err
				}
				a.out.Info("Email:      %s\n", user.Email)
				a.out.Info("Name:       %s\n", user.Name)
				a.out.Info("Household:  %s\n", user.HouseholdSize)
				a.out.Info("2FA:        %t\n", user.TwoFactorEnabled)
				a.out.Info("Created:    %s\n", user.CreatedAt.UTC().Format(time.RFC3339))

				w := tabwriter.NewWriter(a.out.Out(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "\nPURPOSE\tSTATE\tEXPIRES\tATTEMPTS")
				for _, p := range model.Purposes() {
					ch := user.Challenge(p)
					expires := "-"
					if ch.ExpiresAt != nil {
						expires = ch.ExpiresAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p, ch.State, expires, ch.Attempts)
				}
				return w.Flush()
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset-2fa <email>",
		Short: "Turn off two-factor authentication for a locked-out user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(_ *config.Config, st store.Store) error {
				user, err := a.findUser(cmd, st, args[0])
				if err != nil {
					return err
				}
				if !user.TwoFactorEnabled && !user.TwoFactorSetup.Active() && !user.TwoFactorLogin.Active() {
					a.out.Warning("two-factor authentication is already off for %s\n", user.Email)
					return nil
				}
				user.DisableTwoFactor(time.Now())
				if err := st.Save(cmd.Context(), user); err != nil {
					if errors.Is(err, store.ErrConflict) {
						return a.out.Error("User was modified concurrently", "The record changed while it was being updated.", []string{"Run the command again"})
					}
					return fmt.Errorf("save user: %w", err)
				}
				a.out.Success("Two-factor authentication disabled for %s\n", user.Email)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, reset)
	return cmd
}

func (a *app) findUser(cmd *cobra.Command, st store.Store, email string) (*model.User, error) {
	user, err := st.FindByEmail(cmd.Context(), model.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, a.out.Error(fmt.Sprintf("User %s not found", email), "", []string{"Run 'foodshield-admin user list' to see registered accounts"})
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}
