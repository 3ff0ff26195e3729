package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/derive"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/pipeline"
	"github.com/ppiankov/finverify/internal/store"
)

const appleFacts = `
# Apple FY2024 from the 10-K
{"entity": "aapl", "tag": "Revenues", "unit": "USD", "fiscal_year": 2024, "fiscal_period": "FY", "value": 394300000000, "source": "SEC", "filed_at": "2024-11-01T00:00:00Z"}

{"entity": "AAPL", "tag": "NetIncomeLoss", "unit": "USD", "fiscal_year": 2024, "fiscal_period": "FY", "value": 93736000000, "source": "SEC", "filed_at": "2024-11-01T00:00:00Z", "ingested_at": "2024-11-02T08:30:00Z"}
`

func TestReadFacts_JSONL(t *testing.T) {
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	facts, err := ReadFacts(strings.NewReader(appleFacts), now)
	if err != nil {
		t.Fatalf("ReadFacts error: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("Expected 2 facts, got %d", len(facts))
	}

	if facts[0].Entity != "AAPL" {
		t.Errorf("Expected entity upper-cased to AAPL, got %q", facts[0].Entity)
	}
	if !facts[0].IngestedAt.Equal(now) {
		t.Errorf("Expected missing ingested_at to default to now, got %v", facts[0].IngestedAt)
	}
	if want := time.Date(2024, 11, 2, 8, 30, 0, 0, time.UTC); !facts[1].IngestedAt.Equal(want) {
		t.Errorf("Expected explicit ingested_at to be kept, got %v", facts[1].IngestedAt)
	}
	if facts[1].FiscalPeriod != model.PeriodFY || facts[1].Value != 93736e6 {
		t.Errorf("unexpected fact: %+v", facts[1])
	}
}

func TestReadFacts_Array(t *testing.T) {
	input := `  [
  {"entity": "MSFT", "tag": "Revenues", "unit": "USD", "fiscal_year": 2024, "fiscal_period": "FY", "value": 245100000000, "source": "SEC"},
  {"entity": "MSFT", "tag": "GrossProfit", "unit": "USD", "fiscal_year": 2024, "fiscal_period": "FY", "value": 171000000000, "source": "SEC"}
]`
	facts, err := ReadFacts(strings.NewReader(input), time.Now())
	if err != nil {
		t.Fatalf("ReadFacts error: %v", err)
	}

	var tags []string
	for _, f := range facts {
		tags = append(tags, f.Tag)
	}
	if diff := cmp.Diff([]string{"Revenues", "GrossProfit"}, tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFacts_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad json", `{"entity": "AAPL",`, "line 1"},
		{"missing entity", `{"tag": "Revenues", "fiscal_period": "FY"}`, "missing entity"},
		{"missing tag", `{"entity": "AAPL", "fiscal_period": "FY"}`, "missing tag"},
		{"bad period", `{"entity": "AAPL", "tag": "Revenues", "fiscal_period": "H1"}`, "invalid fiscal period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFacts(strings.NewReader(tt.input), time.Now())
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestReadFacts_Empty(t *testing.T) {
	facts, err := ReadFacts(strings.NewReader("  \n\t"), time.Now())
	if err != nil {
		t.Fatalf("ReadFacts error: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("Expected no facts, got %d", len(facts))
	}
}

func TestEntitiesOf(t *testing.T) {
	facts := []model.RawFact{{Entity: "MSFT"}, {Entity: "AAPL"}, {Entity: "MSFT"}}
	if diff := cmp.Diff([]string{"MSFT", "AAPL"}, entitiesOf(facts)); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshTarget(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		all     bool
		want    string
		wantErr bool
	}{
		{"entity", []string{"aapl"}, false, "AAPL", false},
		{"all", nil, true, derive.All, false},
		{"both", []string{"AAPL"}, true, "", true},
		{"neither", nil, false, "", true},
		{"blank", []string{"  "}, false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := refreshTarget(tt.args, tt.all)
			if (err != nil) != tt.wantErr {
				t.Fatalf("refreshTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("refreshTarget() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadResponse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "answer.txt")
	if err := os.WriteFile(path, []byte("Apple's revenue is $394.3B."), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		file    string
		stdin   string
		want    string
		wantErr bool
	}{
		{"argument", []string{"Tesla earned $7.1B."}, "", "", "Tesla earned $7.1B.", false},
		{"file", nil, path, "", "Apple's revenue is $394.3B.", false},
		{"stdin", []string{"-"}, "", "from stdin", "from stdin", false},
		{"both", []string{"text"}, path, "", "", true},
		{"none", nil, "", "", "", true},
		{"missing file", nil, filepath.Join(dir, "nope.txt"), "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readResponse(tt.args, tt.file, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("readResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("readResponse() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionalCount(t *testing.T) {
	if optionalCount(-1) != nil {
		t.Error("Expected nil for a negative count")
	}
	if got := optionalCount(0); got == nil || *got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
	if got := optionalCount(3); got == nil || *got != 3 {
		t.Errorf("Expected 3, got %v", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"resp-1", "resp-1"},
		{"a/b:c", "a_b_c"},
		{"my answer", "my-answer"},
		{"..", "response"},
		{"", "response"},
		{strings.Repeat("x", 120), strings.Repeat("x", 100)},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSnapshotValue(t *testing.T) {
	tests := []struct {
		kind catalog.Kind
		v    float64
		want string
	}{
		{catalog.KindCurrency, 394.3e9, "$394.30B"},
		{catalog.KindCurrency, 12.5e6, "$12.50M"},
		{catalog.KindCurrency, 950, "$950.00"},
		{catalog.KindPerShare, 6.11, "$6.11"},
		{catalog.KindPercent, 0.4621, "46.21%"},
		{catalog.KindMultiple, 28.456, "28.46x"},
		{catalog.KindCount, 15204137000, "15204137000"},
	}

	for _, tt := range tests {
		if got := formatSnapshotValue(tt.kind, tt.v); got != tt.want {
			t.Errorf("formatSnapshotValue(%s, %v) = %q, want %q", tt.kind, tt.v, got, tt.want)
		}
	}
}

func TestLoadConfig_UpperCasesAliasEntities(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig error: %v", err)
	}
	if _, ok := cfg.Aliases["AAPL"]; !ok {
		t.Errorf("Expected AAPL alias entry, got %v", cfg.Aliases)
	}
	if _, ok := cfg.Aliases["aapl"]; ok {
		t.Error("Expected no lower-case alias entity")
	}
	if cfg.Verify.TolerancePct != model.DefaultTolerancePct {
		t.Errorf("Expected default tolerance %v, got %v", model.DefaultTolerancePct, cfg.Verify.TolerancePct)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := writeDefaultConfig(path, model.DefaultConfig()); err != nil {
		t.Fatalf("writeDefaultConfig error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# finverify configuration file", "tolerance_pct: 5", "driver: sqlite"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected config to contain %q", want)
		}
	}
}

func TestApp_LoadRefreshVerify(t *testing.T) {
	ctx := context.Background()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default error: %v", err)
	}

	a := assemble(model.DefaultConfig(), cat, store.NewMemoryStore())
	defer func() { _ = a.Close() }()

	facts, err := ReadFacts(strings.NewReader(appleFacts), time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadFacts error: %v", err)
	}
	if _, err := a.store.InsertFacts(ctx, facts); err != nil {
		t.Fatalf("InsertFacts error: %v", err)
	}
	if _, err := a.deriver.Refresh(ctx, derive.All, false); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	one := 1
	for i := 0; i < 2; i++ {
		report, err := a.pipeline.VerifyResponse(ctx, "Apple's revenue is $394.3B.", pipeline.Options{SourceCount: &one})
		if err != nil {
			t.Fatalf("VerifyResponse error: %v", err)
		}
		if report.Confidence.Score != 1.0 {
			t.Errorf("Expected score 1.0, got %v (%v)", report.Confidence.Score, report.Confidence.Factors)
		}
		if got := pipeline.Footer(report); got != "Confidence: 100% | Verified: 1/1 facts" {
			t.Errorf("unexpected footer %q", got)
		}
	}

	if got := testutil.ToFloat64(a.metrics.CacheLookups.WithLabelValues("miss")); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(a.metrics.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}

	var out strings.Builder
	snaps, err := a.deriver.GetMetrics(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetMetrics error: %v", err)
	}
	if err := writeSnapshotTable(&out, a.catalog, snaps); err != nil {
		t.Fatalf("writeSnapshotTable error: %v", err)
	}
	if !strings.Contains(out.String(), "$394.30B") || !strings.Contains(out.String(), "FY2024") {
		t.Errorf("unexpected table:\n%s", out.String())
	}
}
