package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/finverify/internal/derive"
	"github.com/ppiankov/finverify/internal/metrics"
)

var (
	refreshAll      bool
	refreshForce    bool
	refreshInterval time.Duration
	metricsAddr     string
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh [entity]",
	Short: "Rebuild canonical metric snapshots from raw facts",
	Long: `Refresh derives the canonical value of every catalog metric for one entity,
or for every entity with raw facts, and atomically replaces its snapshots.

Without --force an entity is skipped when its snapshots already reflect the
newest ingested fact with a catalog tag. This assumes ingested_at only moves
forward: facts loaded with an older ingested_at than the current snapshots are
picked up by --force. With --interval the refresh repeats until interrupted.

Example:
  finverify refresh AAPL
  finverify refresh --all --force
  finverify refresh --all --interval 15m --metrics-addr :9090`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "refresh every entity with raw facts")
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "recompute even when snapshots are up to date")
	refreshCmd.Flags().DurationVar(&refreshInterval, "interval", 0, "repeat the refresh at this interval until interrupted")
	refreshCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	target, err := refreshTarget(args, refreshAll)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Serving metrics on %s/metrics\n", metricsAddr)
		g.Go(func() error {
			return metrics.Serve(gctx, metricsAddr, a.registry)
		})
	}

	g.Go(func() error {
		// Stop the metrics server once refreshing is done
		defer stop()
		return refreshLoop(gctx, a.deriver, target, refreshForce, refreshInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// refreshTarget resolves the positional entity and --all into a deriver target
func refreshTarget(args []string, all bool) (string, error) {
	switch {
	case all && len(args) > 0:
		return "", fmt.Errorf("give either an entity or --all, not both")
	case all:
		return derive.All, nil
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		return strings.ToUpper(strings.TrimSpace(args[0])), nil
	default:
		return "", fmt.Errorf("no entity given (use --all to refresh every entity)")
	}
}

func refreshLoop(ctx context.Context, d *derive.Deriver, target string, force bool, interval time.Duration) error {
	for {
		start := time.Now()
		n, err := d.Refresh(ctx, target, force)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", targetLabel(target), err)
		}
		fmt.Fprintf(os.Stderr, "✓ Refreshed %s: %d snapshots written in %v\n", targetLabel(target), n, time.Since(start).Round(time.Millisecond))

		if interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func targetLabel(target string) string {
	if target == derive.All {
		return "all entities"
	}
	return target
}
