package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/finverify/internal/model"
)

var loadRefresh bool

// loadCmd represents the load command
var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load raw facts from a JSON or JSONL file",
	Long: `Load appends raw facts to the store, the way ingestion jobs do.

The file is either a JSON array of facts or one JSON fact per line. Use "-"
to read from stdin. Facts missing ingested_at are stamped with the load time.

Example:
  finverify load facts.jsonl
  finverify load facts.json --refresh`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().BoolVar(&loadRefresh, "refresh", false, "refresh snapshots of the loaded entities afterwards")
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	facts, err := readFactsArg(args[0])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	n, err := a.store.InsertFacts(ctx, facts)
	if err != nil {
		return fmt.Errorf("insert facts: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d facts\n", n)

	if !loadRefresh {
		return nil
	}
	for _, entity := range entitiesOf(facts) {
		written, err := a.deriver.Refresh(ctx, entity, true)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", entity, err)
		}
		fmt.Fprintf(os.Stderr, "✓ %s: %d snapshots\n", entity, written)
	}
	return nil
}

func readFactsArg(path string) ([]model.RawFact, error) {
	if path == "-" {
		return ReadFacts(os.Stdin, time.Now().UTC())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadFacts(f, time.Now().UTC())
}

// ReadFacts decodes a JSON array or JSONL stream of raw facts.
// Zero ingestion times are set to now.
func ReadFacts(r io.Reader, now time.Time) ([]model.RawFact, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}

	var facts []model.RawFact
	if first == '[' {
		if err := json.NewDecoder(br).Decode(&facts); err != nil {
			return nil, fmt.Errorf("decode facts: %w", err)
		}
	} else {
		scanner := bufio.NewScanner(br)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 || line[0] == '#' {
				continue
			}
			var fact model.RawFact
			if err := json.Unmarshal(line, &fact); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			facts = append(facts, fact)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("scan facts: %w", err)
		}
	}

	for i := range facts {
		if err := checkFact(facts[i]); err != nil {
			return nil, fmt.Errorf("fact %d: %w", i+1, err)
		}
		facts[i].Entity = strings.ToUpper(strings.TrimSpace(facts[i].Entity))
		if facts[i].IngestedAt.IsZero() {
			facts[i].IngestedAt = now
		}
	}
	return facts, nil
}

func checkFact(f model.RawFact) error {
	switch {
	case strings.TrimSpace(f.Entity) == "":
		return fmt.Errorf("missing entity")
	case f.Tag == "":
		return fmt.Errorf("missing tag")
	case !f.FiscalPeriod.Valid():
		return fmt.Errorf("invalid fiscal period %q", f.FiscalPeriod)
	}
	return nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// entitiesOf returns the distinct entities of facts in first-seen order
func entitiesOf(facts []model.RawFact) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range facts {
		if !seen[f.Entity] {
			seen[f.Entity] = true
			out = append(out, f.Entity)
		}
	}
	return out
}
