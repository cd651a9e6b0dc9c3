package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/xprovision/internal/auth/token"
	"github.com/creamcroissant/xprovision/internal/config"
	"github.com/creamcroissant/xprovision/internal/support/hash"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token without a password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				signed, claims, err := rt.app.Tokens.Issue(rt.cfg.Auth.AdminUsername, token.RoleAdmin)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", signed)
				fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "hash-password [password]",
		Long:  "Print a bcrypt hash for auth.admin_password_hash. Without an argument the password is read from the first line of stdin.",
		Short: "Print a bcrypt hash for auth.admin_password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				// 从 stdin 读一行，便于 echo/管道输入而不留在 shell 历史里。
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					password = strings.TrimRight(scanner.Text(), "\r")
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}
			hasher, err := hash.NewBcryptHasher(cfg.Auth.BcryptCost)
			if err != nil {
				return err
			}
			hashed, err := hasher.Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return nil
		},
	})
}
