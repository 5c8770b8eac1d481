package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newRoleCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Assign roles to users",
	}
	cmd.AddCommand(
		newRoleAssignCmd(app, "grant", "Add a role to a user", func(ctx context.Context, b *Backend, id int64, role string) ([]string, error) {
			return b.Roles.GrantToUser(ctx, id, role)
		}),
		newRoleAssignCmd(app, "revoke", "Remove a role from a user", func(ctx context.Context, b *Backend, id int64, role string) ([]string, error) {
			return b.Roles.RevokeFromUser(ctx, id, role)
		}),
	)
	return cmd
}

type assignFunc func(ctx context.Context, b *Backend, userID int64, role string) ([]string, error)

func newRoleAssignCmd(app *cliApp, verb, short string, apply assignFunc) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <user> <role>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withBackend(cmd.Context(), func(b *Backend) error {
				user, err := b.FindUser(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				roles, err := apply(cmd.Context(), b, user.ID, args[1])
				if err != nil {
					return err
				}
				return render(cmd, map[string]any{"id": user.ID, "roles": roles}, func(w io.Writer) {
					fmt.Fprintf(w, "user %d roles: %s\n", user.ID, strings.Join(roles, ","))
				})
			})
		},
	}
}
