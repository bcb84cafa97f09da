package cli

import (
	"fmt"
	"io"
	"strings"

	"cryptofx/api_gateway/internal/plans"

	"github.com/spf13/cobra"
)

func newPlansCmd() *cobra.Command {
	p := &cobra.Command{Use: "plans", Short: "Inspect subscription plans"}
	p.AddCommand(&cobra.Command{Use: "list", Short: "List plans with env overrides applied", RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := plans.NewRegistry(plans.ApplyEnvOverrides(plans.DefaultPlans()))
		if err != nil {
			return err
		}
		all := registry.Plans()
		return render(cmd, all, func(w io.Writer) {
			fmt.Fprintf(w, "%-6s %8s %8s %6s %6s %6s  %s\n", "PLAN", "HOURLY", "DAILY", "BURST", "DAYS", "BATCH", "FEATURES")
			for _, pl := range all {
				fmt.Fprintf(w, "%-6s %8d %8d %6d %6d %6d  %s\n",
					pl.Tier, pl.RequestsPerHour, pl.RequestsPerDay, pl.BurstLimit, pl.HistoricalDays, pl.BatchSize,
					strings.Join(pl.Features, ","))
			}
		})
	}})
	return p
}
