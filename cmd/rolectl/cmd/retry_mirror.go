package cmd

import (
	"github.com/spf13/cobra"
)

func newRetryMirrorCmd() *cobra.Command {
	var as, subject, role string

	c := &cobra.Command{
		Use:   "retry-mirror",
		Short: "Write the isAdmin flag again after a failed mirror update",
		Long: `retry-mirror repeats only the backend write of an earlier role change.
Use it when set-role reported that the identity provider already holds the
new role. The identity provider is not touched.`,
		Args: cobra.NoArgs,
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

			a, err := core.Sync.RetryMirror(cmd.Context(), cred, subject, role)
			printAttempt(cmd, a)
			return explain(a, err)
		},
	}

	c.Flags().StringVar(&as, "as", "", "email of the acting administrator")
	c.Flags().StringVar(&subject, "subject", "", "IdP subject id, as printed by set-role")
	c.Flags().StringVar(&role, "role", "", "role id or name the subject holds on the IdP")
	for _, name := range []string{"as", "subject", "role"} {
		_ = c.MarkFlagRequired(name)
	}
	return c
}
