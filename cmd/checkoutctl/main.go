package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ariefcatur/go-checkout-payments/internal/sweeper"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var server, token, actor string
	root := &cobra.Command{
		Use:     "checkoutctl",
		Short:   "Operator commands for the checkout service",
		Version: Version,
	}
	root.PersistentFlags().StringVar(&server, "server", envOr("CHECKOUTCTL_SERVER", "http://localhost:8081"), "checkout-api base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("ADMIN_TOKEN"), "admin bearer token")
	root.PersistentFlags().StringVar(&actor, "actor", envOr("USER", "checkoutctl"), "name recorded in the audit log")

	client := func() *adminClient { return newAdminClient(server, token, actor) }

	root.AddCommand(statsCmd(client))
	root.AddCommand(sweepCmd(client))
	root.AddCommand(purgeCmd(client))
	return root
}

func statsCmd(client func() *adminClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show order counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total:     %d\n", st.Total)
			fmt.Fprintf(out, "synthetic: %d\n", st.Synthetic)
			fmt.Fprintln(out, "\npayment status:")
			for _, k := range sortedKeys(st.ByPaymentStatus) {
				fmt.Fprintf(out, "  %-22s %d\n", k, st.ByPaymentStatus[k])
			}
			fmt.Fprintln(out, "\norder status:")
			for _, k := range sortedKeys(st.ByOrderStatus) {
				fmt.Fprintf(out, "  %-22s %d\n", k, st.ByOrderStatus[k])
			}
			return nil
		},
	}
}

func sweepCmd(client func() *adminClient) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale awaiting payments now",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := client().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d order(s)\n", n)
			return nil
		},
	}
}

func purgeCmd(client func() *adminClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete failed, expired or synthetic orders (two steps)",
	}

	plan := &cobra.Command{
		Use:   "plan",
		Short: "Count matching orders and print an approval token",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, _ := cmd.Flags().GetStringSlice("kinds")
			olderThan, _ := cmd.Flags().GetString("older-than")
			p, err := client().PlanPurge(cmd.Context(), sweeper.PurgeRequest{Kinds: kinds, OlderThan: olderThan})
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(p)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "matching:   %d\n", p.Matching)
			fmt.Fprintf(out, "expires at: %s\n", p.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(out, "\nrun: checkoutctl purge execute %s\n", p.ApprovalToken)
			return nil
		},
	}
	plan.Flags().StringSliceP("kinds", "k", nil, "failed, expired, synthetic")
	plan.Flags().String("older-than", "7d", "only orders idle longer than this (e.g. 72h, 30d)")
	plan.Flags().BoolP("json", "j", false, "Output as JSON")

	execute := &cobra.Command{
		Use:   "execute [approval-token]",
		Short: "Run a planned purge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().ExecutePurge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d order(s)\n", res.Deleted)
			return nil
		},
	}

	cmd.AddCommand(plan, execute)
	return cmd
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
