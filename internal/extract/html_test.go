package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVisibleText(t *testing.T) {
	html := `<html><head><title>Ignored</title></head><body>
<p>Apple's revenue is <b>$394.3B</b>.</p>
<script>var revenue = "$1B";</script>
<style>p { color: red }</style>
<p>Margin improved to 45.9%.</p>
</body></html>`

	text, err := VisibleText(html)
	if err != nil {
		t.Fatalf("VisibleText failed: %v", err)
	}

	want := "Apple's revenue is $394.3B.\nMargin improved to 45.9%."
	if text != want {
		t.Errorf("Expected %q, got %q", want, text)
	}
}

func TestVisibleText_FeedsExtractor(t *testing.T) {
	text, err := VisibleText(`<ul><li>Apple revenue: $394.3B</li><li>Microsoft revenue: $245.1B</li></ul>`)
	if err != nil {
		t.Fatalf("VisibleText failed: %v", err)
	}

	claims := newTestExtractor(t).Extract(text)
	if len(claims) != 2 {
		t.Fatalf("Expected 2 claims, got %d", len(claims))
	}
	if claims[0].Entity != "AAPL" || claims[1].Entity != "MSFT" {
		t.Errorf("Expected AAPL then MSFT, got %q then %q", claims[0].Entity, claims[1].Entity)
	}
}

func TestLinks(t *testing.T) {
	links, err := Links(`<p>See <a href="https://www.sec.gov/edgar">EDGAR</a>,
<a href="/relative">here</a>, <a href="mailto:x@y.z">mail</a> and <a href="http://example.com/a">this</a>.</p>`)
	if err != nil {
		t.Fatalf("Links failed: %v", err)
	}

	want := []string{"https://www.sec.gov/edgar", "http://example.com/a"}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("Links mismatch (-want +got):\n%s", diff)
	}
}
