package cmd

import (
	"github.com/spf13/cobra"
)

func newSetRoleCmd() *cobra.Command {
	var as, email, role string

	c := &cobra.Command{
		Use:     "set-role",
		Short:   "Change the role of a subject, acting as an administrator",
		Example: `  rolectl set-role --as admin@example.com --email bob@example.com --role admin`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			cred, err := login(cmd.Context(), core, as)
			if err != nil {
				return err
			}

			a, err := core.Sync.ChangeRole(cmd.Context(), cred, email, role)
			printAttempt(cmd, a)
			return explain(a, err)
		},
	}

	c.Flags().StringVar(&as, "as", "", "email of the acting administrator")
	c.Flags().StringVar(&email, "email", "", "email of the subject to change")
	c.Flags().StringVar(&role, "role", "", "role id or name (admin or user)")
	for _, name := range []string{"as", "email", "role"} {
		_ = c.MarkFlagRequired(name)
	}
	return c
}
