package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/finverify/internal/pipeline"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	batchCorrect bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Verify many responses from a JSONL file in parallel",
	Long: `Batch verifies responses concurrently:
- Read requests from a JSONL file, one {"id", "text", ...} object per line
- Verify responses in parallel with a configurable worker count
- Write one JSON report per response to the output directory

Request fields: id, text, html (text is markup), source_count, data_age_days.

Example:
  finverify batch answers.jsonl
  finverify batch answers.jsonl --concurrency 8 --output-dir ./reports
  finverify batch answers.jsonl --correct --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./finverify-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().BoolVar(&batchCorrect, "correct", false, "include corrected text in each report")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  finverify Batch Verification\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// Create output directory
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	processor := pipeline.NewBatchProcessor(a.pipeline, concurrency)

	fmt.Fprintf(os.Stderr, "⚙️  Verifying responses with %d workers...\n", concurrency)
	fmt.Fprintf(os.Stderr, "\n")

	results, err := processor.ProcessFile(ctx, file, pipeline.BatchOptions{
		Now:     time.Now().UTC(),
		Correct: batchCorrect,
	})
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	successCount := 0
	failureCount := 0
	var scoreSum float64

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.ID, result.Error)
			continue
		}

		jsonPath := filepath.Join(outputDir, sanitizeFilename(result.ID)+".json")
		if err := pipeline.RenderJSONFile(result.Report, jsonPath); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", result.ID, err)
			continue
		}

		successCount++
		scoreSum += result.Report.Confidence.Score
		fmt.Fprintf(os.Stderr, "✓ %s (%s)\n", result.ID, pipeline.Footer(result.Report))
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:      %d responses\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:    %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:   %d\n", failureCount)
	if successCount > 0 {
		fmt.Fprintf(os.Stderr, "  Mean score: %.2f\n", scoreSum/float64(successCount))
	}
	fmt.Fprintf(os.Stderr, "  Output:     %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d responses failed", failureCount, len(results))
	}
	return nil
}

// sanitizeFilename turns a request id into a safe file name
func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "-",
	)
	s = replacer.Replace(strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		s = "response"
	}

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}

	return s
}
