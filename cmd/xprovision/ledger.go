package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/xprovision/internal/service"
)

func init() {
	var issue service.IssueRequest
	var paymentRef string
	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Issue a subscription: create a client on the server and record it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if paymentRef != "" {
				issue.PaymentRef = &paymentRef
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				record, err := rt.app.Subscriptions.Issue(ctx, issue)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "subscription %d active until %s\n%s\n",
					record.ID, time.Unix(record.EndsAt, 0).UTC().Format(time.RFC3339), record.ConnectionURI)
				return nil
			})
		},
	}
	provisionCmd.Flags().Int64Var(&issue.UserID, "user", 0, "user id")
	provisionCmd.Flags().Int64Var(&issue.TariffID, "tariff", 0, "tariff id")
	provisionCmd.Flags().Int64Var(&issue.ServerID, "server", 0, "server id")
	provisionCmd.Flags().StringVar(&paymentRef, "payment-ref", "", "optional payment reference")
	_ = provisionCmd.MarkFlagRequired("user")
	_ = provisionCmd.MarkFlagRequired("tariff")
	_ = provisionCmd.MarkFlagRequired("server")
	rootCmd.AddCommand(provisionCmd)

	var migrate service.MigrateRequest
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move an active subscription to another server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				result, err := rt.app.Migrations.Migrate(ctx, migrate)
				if err != nil {
					if result != nil {
						return fmt.Errorf("migration aborted at %s: %w", result.FailedAt, err)
					}
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "state: %s\nremaining days: %d\nold client removed: %t\n", result.State, result.RemainingDays, result.OldRemoved)
				if result.DeleteErr != nil {
					fmt.Fprintf(out, "old client removal failed: %v\n", result.DeleteErr)
				}
				fmt.Fprintf(out, "subscription %d\n%s\n", result.New.ID, result.New.ConnectionURI)
				return nil
			})
		},
	}
	migrateCmd.Flags().Int64Var(&migrate.SubscriptionID, "subscription", 0, "subscription id")
	migrateCmd.Flags().Int64Var(&migrate.TargetServerID, "server", 0, "target server id")
	migrateCmd.Flags().Int64Var(&migrate.UserID, "user", 0, "owner check (optional)")
	_ = migrateCmd.MarkFlagRequired("subscription")
	_ = migrateCmd.MarkFlagRequired("server")
	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "subscriptions <user-id>",
		Short: "List a user's active subscriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("user id: %w", err)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				records, err := rt.app.Subscriptions.ListActive(ctx, userID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tTARIFF\tSERVER\tENDS\tURI")
				for _, r := range records {
					fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", r.ID, r.TariffID, r.ServerID,
						time.Unix(r.EndsAt, 0).UTC().Format(time.DateOnly), r.ConnectionURI)
				}
				return w.Flush()
			})
		},
	})

	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Background jobs",
	}
	jobCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				for _, name := range rt.app.Scheduler.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	})
	jobCmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				if err := rt.app.Scheduler.RunNow(ctx, args[0]); err != nil {
					return err
				}
				// 过期清理会产生通知，命令退出前投递掉。
				if args[0] != "notify.dispatch" && rt.app.Queue.Pending() > 0 {
					return rt.app.Scheduler.RunNow(ctx, "notify.dispatch")
				}
				return nil
			})
		},
	})
	rootCmd.AddCommand(jobCmd)
}
