package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/ppiankov/finverify/internal/model"
)

// Footer is the one-line summary appended to a verified answer
func Footer(report *model.ResponseReport) string {
	return fmt.Sprintf("Confidence: %d%% | Verified: %d/%d facts",
		int(math.Round(report.Confidence.Score*100)), report.CorrectCount, report.TotalCount)
}

// RenderJSON writes the report as indented JSON
func RenderJSON(w io.Writer, report *model.ResponseReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// RenderJSONFile writes the report as indented JSON to path
func RenderJSONFile(report *model.ResponseReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// RenderText prints a human-readable report: one line per claim, then the
// confidence factors when verbose, then the footer
func RenderText(w io.Writer, report *model.ResponseReport, verbose bool) error {
	var b strings.Builder

	if report.ID != "" {
		fmt.Fprintf(&b, "Response %s\n", report.ID)
	}
	if len(report.Results) == 0 {
		b.WriteString("No numeric claims found.\n")
	}
	for _, r := range report.Results {
		fmt.Fprintf(&b, "  %s %-8s %s\n", statusMark(r.Status), r.Claim.Raw, describe(r))
	}

	if verbose {
		b.WriteString("\nFactors:\n")
		for _, f := range report.Confidence.Factors {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}

	if report.Corrected != "" {
		fmt.Fprintf(&b, "\nCorrected:\n%s\n", report.Corrected)
	}

	fmt.Fprintf(&b, "\n%s\n", Footer(report))

	_, err := io.WriteString(w, b.String())
	return err
}

func statusMark(s model.VerificationStatus) string {
	switch s {
	case model.StatusVerified:
		return "✓"
	case model.StatusDiscrepant:
		return "✗"
	default:
		return "?"
	}
}

func describe(r model.VerificationResult) string {
	subject := strings.TrimSpace(r.Claim.Entity + " " + r.Claim.Metric)
	if subject == "" {
		subject = "unknown"
	}
	if r.Source != "" {
		return fmt.Sprintf("%s: %s [%s]", subject, r.Message, r.Source)
	}
	return fmt.Sprintf("%s: %s", subject, r.Message)
}
