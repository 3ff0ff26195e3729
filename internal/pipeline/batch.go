package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/finverify/internal/extract"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/worker"
)

// maxLineBytes bounds one JSONL request
const maxLineBytes = 4 << 20

// ResponseVerifier verifies one response text
type ResponseVerifier interface {
	VerifyResponse(ctx context.Context, text string, opts Options) (*model.ResponseReport, error)
}

// Request is one line of a batch input file
type Request struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	HTML        bool   `json:"html,omitempty"` // Text is markup; claims are read from its visible text
	SourceCount *int   `json:"source_count,omitempty"`
	DataAgeDays *int   `json:"data_age_days,omitempty"`
}

// BatchOptions apply to every request of a batch
type BatchOptions struct {
	Now     time.Time
	Correct bool
}

// VerifyJob verifies a single request
type VerifyJob struct {
	Request  Request
	Verifier ResponseVerifier
	Options  BatchOptions

	index int
}

// Execute executes the verify job
func (j *VerifyJob) Execute(ctx context.Context) worker.Result {
	text := j.Request.Text
	if j.Request.HTML {
		visible, err := extract.VisibleText(text)
		if err != nil {
			return &VerifyResult{ID: j.Request.ID, Error: fmt.Errorf("parse html: %w", err), index: j.index}
		}
		text = visible
	}

	report, err := j.Verifier.VerifyResponse(ctx, text, Options{
		ID:          j.Request.ID,
		SourceCount: j.Request.SourceCount,
		DataAgeDays: j.Request.DataAgeDays,
		Now:         j.Options.Now,
		Correct:     j.Options.Correct,
	})
	if err != nil {
		return &VerifyResult{ID: j.Request.ID, Error: err, index: j.index}
	}
	return &VerifyResult{ID: j.Request.ID, Report: report, index: j.index}
}

// VerifyResult represents the result of a verify job
type VerifyResult struct {
	ID     string
	Report *model.ResponseReport
	Error  error

	index int
}

// GetError returns the error from the verify result
func (r *VerifyResult) GetError() error {
	return r.Error
}

// BatchProcessor verifies many responses concurrently
type BatchProcessor struct {
	verifier    ResponseVerifier
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(verifier ResponseVerifier, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		verifier:    verifier,
		concurrency: concurrency,
	}
}

// Process verifies requests concurrently and returns results in input order.
// Requests not started before ctx is cancelled are reported with ctx's error.
func (b *BatchProcessor) Process(ctx context.Context, requests []Request, opts BatchOptions) []*VerifyResult {
	if len(requests) == 0 {
		return []*VerifyResult{}
	}

	pool := worker.NewPool(ctx, b.concurrency)
	pool.Start()

	for i, req := range requests {
		pool.Submit(&VerifyJob{
			Request:  req,
			Verifier: b.verifier,
			Options:  opts,
			index:    i,
		})
	}

	out := make([]*VerifyResult, len(requests))
	for _, r := range pool.Wait() {
		vr := r.(*VerifyResult)
		out[vr.index] = vr
	}

	// The pool drops queued jobs on cancellation
	for i, r := range out {
		if r != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = fmt.Errorf("request %q was not processed", requests[i].ID)
		}
		out[i] = &VerifyResult{ID: requests[i].ID, Error: err, index: i}
	}
	return out
}

// ProcessFile reads JSONL requests from a file and verifies them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string, opts BatchOptions) ([]*VerifyResult, error) {
	requests, err := ReadRequestsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	return b.Process(ctx, requests, opts), nil
}

// ReadRequestsFromFile reads JSONL requests from a file
func ReadRequestsFromFile(filePath string) ([]Request, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ReadRequests(file)
}

// ReadRequests parses one JSON request per line. Blank lines and lines
// starting with # are skipped; requests without an id are named after their line.
func ReadRequests(r io.Reader) ([]Request, error) {
	var requests []Request
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if req.ID == "" {
			req.ID = fmt.Sprintf("line-%d", lineNo)
		}
		if seen[req.ID] {
			return nil, fmt.Errorf("line %d: duplicate id %q", lineNo, req.ID)
		}
		seen[req.ID] = true
		requests = append(requests, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return requests, nil
}
