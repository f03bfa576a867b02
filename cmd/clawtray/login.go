package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize clawtray with your Claude account",
		Long: `Opens the Claude authorization page in your browser and waits for the
redirect on the local callback port. The resulting credential is written to
the credentials file with owner-only permissions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if _, err := e.loginFlow().Login(ctx); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			e.dropCachedUsage()
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in. Credential saved to %s\n", e.store.Path())
			return nil
		},
	}
}

func newLogoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := e.forget(); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

// dropCachedUsage discards any reading cached for the previous account.
func (e *env) dropCachedUsage() {
	if e.cache == nil {
		return
	}
	if err := e.cache.Clear(); err != nil {
		e.log.Warn().Err(err).Msg("clear usage cache")
	}
}
