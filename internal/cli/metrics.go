package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/spf13/cobra"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/model"
)

var metricsJSON bool

// metricsCmd represents the metrics command
var metricsCmd = &cobra.Command{
	Use:   "metrics <entity>",
	Short: "Show an entity's canonical metric snapshots",
	Long: `Metrics prints the current snapshot of every derived metric for an entity.

Example:
  finverify metrics AAPL
  finverify metrics MSFT --json`,
	Args: cobra.ExactArgs(1),
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "print snapshots as JSON")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entity := strings.ToUpper(strings.TrimSpace(args[0]))

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	snaps, err := a.deriver.GetMetrics(ctx, entity)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return fmt.Errorf("no snapshots for %s (run 'finverify refresh %s' after loading facts)", entity, entity)
	}

	if metricsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snaps)
	}
	return writeSnapshotTable(os.Stdout, a.catalog, snaps)
}

// writeSnapshotTable prints snapshots as aligned columns
func writeSnapshotTable(w io.Writer, cat *catalog.Catalog, snaps []model.MetricSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tVALUE\tPERIOD\tSOURCE\tUPDATED")
	for _, s := range snaps {
		kind := catalog.Kind("")
		if m, ok := cat.Metric(s.Metric); ok {
			kind = m.Kind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Metric, formatSnapshotValue(kind, s.Value), s.Period, s.Source, s.UpdatedAt.UTC().Format("2006-01-02"))
	}
	return tw.Flush()
}

// formatSnapshotValue renders a raw snapshot value for people: dollars in
// billions or millions, fractions as percentages, ratios with an x.
func formatSnapshotValue(kind catalog.Kind, v float64) string {
	switch kind {
	case catalog.KindCurrency:
		abs := math.Abs(v)
		switch {
		case abs >= 1e9:
			return usd(v/1e9) + "B"
		case abs >= 1e6:
			return usd(v/1e6) + "M"
		default:
			return usd(v)
		}
	case catalog.KindPerShare:
		return usd(v)
	case catalog.KindPercent:
		return fmt.Sprintf("%.2f%%", v*100)
	case catalog.KindMultiple:
		return fmt.Sprintf("%.2fx", v)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// usd renders v dollars rounded to cents
func usd(v float64) string {
	return money.New(int64(math.Round(v*100)), money.USD).Display()
}
