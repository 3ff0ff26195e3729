package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/finverify/internal/extract"
	"github.com/ppiankov/finverify/internal/pipeline"
)

var (
	verifyFile        string
	verifyHTML        bool
	verifyCorrect     bool
	verifyJSON        bool
	verifyOutput      string
	verifySourceCount int
	verifyDataAge     int
	verifyTimeout     time.Duration
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify [text|-]",
	Short: "Verify the numeric claims of a response",
	Long: `Verify extracts every numeric financial claim from a response, checks each one
against the canonical snapshots, and prints a confidence score with its factors.

The response is the argument, the contents of --file, or stdin when the
argument is "-".

Example:
  finverify verify "Apple's FY2024 revenue was $391.0B."
  finverify verify --file answer.txt --correct
  cat answer.html | finverify verify - --html --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&verifyFile, "file", "f", "", "read the response from a file")
	verifyCmd.Flags().BoolVar(&verifyHTML, "html", false, "treat the response as HTML and verify its visible text")
	verifyCmd.Flags().BoolVar(&verifyCorrect, "correct", false, "print the response with discrepant figures replaced")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the full report as JSON")
	verifyCmd.Flags().StringVarP(&verifyOutput, "output", "o", "", "also write the JSON report to this file")
	verifyCmd.Flags().IntVar(&verifySourceCount, "source-count", -1, "sources backing the response (-1 counts citations and snapshot sources)")
	verifyCmd.Flags().IntVar(&verifyDataAge, "data-age", -1, "age of the underlying data in days (-1 derives it from snapshots)")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 30*time.Second, "timeout for the verification")
}

func runVerify(cmd *cobra.Command, args []string) error {
	text, err := readResponse(args, verifyFile, os.Stdin)
	if err != nil {
		return err
	}
	if verifyHTML {
		if text, err = extract.VisibleText(text); err != nil {
			return fmt.Errorf("parse html: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	report, err := a.pipeline.VerifyResponse(ctx, text, pipeline.Options{
		SourceCount: optionalCount(verifySourceCount),
		DataAgeDays: optionalCount(verifyDataAge),
		Now:         time.Now().UTC(),
		Correct:     verifyCorrect,
	})
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if verifyOutput != "" {
		if err := pipeline.RenderJSONFile(report, verifyOutput); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Report saved: %s\n", verifyOutput)
	}

	if verifyJSON {
		return pipeline.RenderJSON(os.Stdout, report)
	}
	return pipeline.RenderText(os.Stdout, report, verbose)
}

// readResponse picks the response text from the argument, a file or stdin
func readResponse(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("give either a response argument or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		return string(data), nil
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("no response given (pass text, --file, or - for stdin)")
	}
}

// optionalCount maps a negative flag value to "derive it"
func optionalCount(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}
