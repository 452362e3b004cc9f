package cmd

import (
	"github.com/spf13/cobra"
)

func newAdoptCmd() *cobra.Command {
	var email string

	c := &cobra.Command{
		Use:   "adopt",
		Short: "Log in as a subject and mirror the role it holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			cred, err := login(cmd.Context(), core, email)
			if err != nil {
				return err
			}

			a, err := core.Sync.AdoptRole(cmd.Context(), cred)
			printAttempt(cmd, a)
			return explain(a, err)
		},
	}

	c.Flags().StringVar(&email, "email", "", "email of the subject to log in as")
	_ = c.MarkFlagRequired("email")
	return c
}
