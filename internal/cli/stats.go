package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealhound/crawler/internal/catalog"
	"github.com/dealhound/crawler/internal/config"
	"github.com/dealhound/crawler/internal/schedule"
	"github.com/dealhound/crawler/internal/ui"
)

// catalogSummary is the offline view of what the catalog holds.
type catalogSummary struct {
	Products       int `json:"products"`
	Discounted     int `json:"discounted"`
	WithCoupon     int `json:"with_coupon"`
	PromoBadge     int `json:"promo_badge"`
	NeverExtracted int `json:"never_extracted"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the local product catalog",
	Example: `  dealhound stats
  dealhound stats --catalog /var/lib/dealhound/catalog.json --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.LoadLoose(cmd)

		cat, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			return err
		}
		rows, err := cat.Query(context.Background(), schedule.Criteria{})
		if err != nil {
			return err
		}

		var sum catalogSummary
		sum.Products = len(rows)
		for _, row := range rows {
			if row.HasDiscount {
				sum.Discounted++
			}
			if row.HasCoupon() {
				sum.WithCoupon++
			}
			if row.PromoBadge {
				sum.PromoBadge++
			}
			if row.LastUpdate.IsZero() {
				sum.NeverExtracted++
			}
		}

		if cfg.JSONLog {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}

		fmt.Printf("\n%s\n", ui.Bold("CATALOG"))
		fmt.Printf("  %-16s %d\n", "Products", sum.Products)
		fmt.Printf("  %-16s %d\n", "Discounted", sum.Discounted)
		fmt.Printf("  %-16s %d\n", "With coupon", sum.WithCoupon)
		fmt.Printf("  %-16s %d\n", "Promo badge", sum.PromoBadge)
		fmt.Printf("  %-16s %d\n", "Never extracted", sum.NeverExtracted)
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
