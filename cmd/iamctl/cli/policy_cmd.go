package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
)

func newPolicyCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the permission and role vocabulary",
	}
	cmd.AddCommand(newPolicyApplyCmd(app))
	return cmd
}

func newPolicyApplyCmd(app *cliApp) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a YAML policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			policy, err := rbac.ParsePolicy(f)
			if err != nil {
				return err
			}
			summary := map[string]int{"permissions": len(policy.Permissions), "roles": len(policy.Roles)}
			if dryRun {
				return render(cmd, summary, func(w io.Writer) {
					fmt.Fprintf(w, "policy ok: %d permissions, %d roles\n", summary["permissions"], summary["roles"])
				})
			}
			return app.withBackend(cmd.Context(), func(b *Backend) error {
				if err := b.Registry.ApplyPolicy(cmd.Context(), policy); err != nil {
					return err
				}
				// Running servers reload on the broadcast clear.
				b.Registry.ClearPermissionCache(cmd.Context())
				return render(cmd, summary, func(w io.Writer) {
					fmt.Fprintf(w, "applied %d permissions, %d roles\n", summary["permissions"], summary["roles"])
				})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without applying it")
	return cmd
}
