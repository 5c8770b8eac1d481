package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

func newUserCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd(app), newUserDisableCmd(app))
	return cmd
}

func newUserCreateCmd(app *cliApp) *cobra.Command {
	var input users.CreateUserInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withBackend(cmd.Context(), func(b *Backend) error {
				user, err := b.Users.CreateUser(cmd.Context(), input)
				if err != nil {
					return err
				}
				return render(cmd, user, func(w io.Writer) {
					fmt.Fprintf(w, "created user %d (%s) roles=%s\n", user.ID, user.Username, strings.Join(user.Roles, ","))
				})
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&input.Username, "username", "", "Login name")
	fs.StringVar(&input.Email, "email", "", "Email address")
	fs.StringVar(&input.Password, "password", "", "Initial password (min 8 characters)")
	fs.StringSliceVar(&input.Roles, "role", nil, "Role to assign, repeatable")
	requiredFlags(cmd, fs, "username", "email", "password")
	return cmd
}

func newUserDisableCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id|username|email>",
		Short: "Disable an account and revoke its tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withBackend(cmd.Context(), func(b *Backend) error {
				user, err := b.FindUser(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				if err := b.Users.DeleteUser(cmd.Context(), user.ID); err != nil {
					return err
				}
				return render(cmd, map[string]any{"id": user.ID, "disabled": true}, func(w io.Writer) {
					fmt.Fprintf(w, "disabled user %d (%s)\n", user.ID, user.Username)
				})
			})
		},
	}
}
