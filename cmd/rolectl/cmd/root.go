// Package cmd implements rolectl, the operator CLI for role synchronization.
// It runs the same protocols as the HTTP server, from a terminal.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"role-sync-service/internal/app"
	"role-sync-service/internal/auth"
	"role-sync-service/internal/auth/rolesync"
	"role-sync-service/internal/config"
	"role-sync-service/internal/logger"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const passwordEnv = "ROLECTL_PASSWORD"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rolectl",
		Short: "Inspect and change admin roles on the identity provider",
		Long: `rolectl runs role adoption and role changes against the identity
provider and writes the resulting isAdmin flag to the application backend.
Configuration is read from the same environment variables as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newAdoptCmd(), newSetRoleCmd(), newRetryMirrorCmd())
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadCore reads the configuration and builds the synchronization stack.
// Logs go to stderr so stdout carries only command output.
func loadCore(ctx context.Context) (*app.Core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.InitWriter(os.Stderr, cfg.LogLevel)
	return app.NewCore(ctx, cfg)
}

// login exchanges the password of email for a subject credential.
func login(ctx context.Context, core *app.Core, email string) (*auth.Credential, error) {
	password, err := readPassword(email)
	if err != nil {
		return nil, err
	}
	cred, err := core.Tokens.SubjectCredential(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("login as %s: %w", email, err)
	}
	return cred, nil
}

// readPassword takes the password from ROLECTL_PASSWORD, or prompts for it
// when stdin is a terminal.
var readPassword = func(email string) (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for password prompt, set %s", passwordEnv)
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", email)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

func printAttempt(cmd *cobra.Command, a *rolesync.Attempt) {
	if a == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "attempt:  %s\n", a.ID)
	fmt.Fprintf(out, "subject:  %s\n", a.SubjectID)
	if a.Email != "" {
		fmt.Fprintf(out, "email:    %s\n", a.Email)
	}
	fmt.Fprintf(out, "role:     %s\n", a.Role.Name)
	fmt.Fprintf(out, "isAdmin:  %t\n", a.IsAdmin)

	states := make([]string, 0, len(a.States))
	for _, s := range a.States {
		states = append(states, string(s))
	}
	fmt.Fprintf(out, "states:   %s\n", strings.Join(states, " -> "))
}

// explain adds the recovery step for failures that have one.
func explain(a *rolesync.Attempt, err error) error {
	if a == nil {
		return err
	}
	switch kind := a.Kind(); {
	case kind == "mirror_write" && a.Reached(rolesync.StateRolesMutated):
		return fmt.Errorf("%w\nthe identity provider already holds the new role; run: rolectl retry-mirror --subject %s --role %s",
			err, a.SubjectID, a.Role.Name)
	case kind == "role_mutation_remove":
		return fmt.Errorf("%w\nthe subject holds both roles; repeat the same set-role command", err)
	default:
		return err
	}
}
