//go:build integration

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dshills/triage/internal/llm"
	"github.com/dshills/triage/internal/schema"
)

// confirmedVerdict is the canned validation verdict used when every finding
// should ground successfully.
const confirmedVerdict = `{
  "validation_status": "confirmed",
  "final_confidence": 0.92,
  "grounding_evidence": {
    "checked_files": ["db.go"],
    "reasoning": "traced the tainted parameter into the query string"
  }
}`

// duplicateDecision is the canned gate response marking a checked pair as
// duplicates.
const duplicateDecision = `{"is_duplicate": true, "duplicate_of_id": "sec-001", "reason": "same tainted query"}`

// batchGroups is the canned batch dedup response grouping sec-002 under
// sec-001.
const batchGroups = `{"groups": [{"kept_id": "sec-001", "duplicate_ids": ["sec-002"], "reason": "same tainted query"}]}`

// mockProvider returns the same canned response for every call. The
// validation pool calls Complete concurrently, so the call counter is atomic.
type mockProvider struct {
	response string
	calls    atomic.Int32
}

func (m *mockProvider) Complete(ctx context.Context, system, user string, maxTokens int, temp float64) (llm.Completion, error) {
	m.calls.Add(1)
	return llm.Completion{Text: m.response, TokensUsed: 7}, nil
}

func injectMock(t *testing.T, response string) *mockProvider {
	t.Helper()
	mock := &mockProvider{response: response}
	orig := llm.NewProvider
	llm.NewProvider = func(providerName, model string) (llm.Provider, error) {
		return mock, nil
	}
	t.Cleanup(func() { llm.NewProvider = orig })
	return mock
}

// injectBrokenFactory makes provider construction fail, the way a missing
// API key does.
func injectBrokenFactory(t *testing.T) {
	t.Helper()
	orig := llm.NewProvider
	llm.NewProvider = func(providerName, model string) (llm.Provider, error) {
		return nil, fmt.Errorf("no API key configured")
	}
	t.Cleanup(func() { llm.NewProvider = orig })
}

// baseFlags returns runFlags for a fixture, writing the report to a temp file.
func baseFlags(t *testing.T, fixture string) runFlags {
	t.Helper()
	return runFlags{
		findingsFile: "../../testdata/" + fixture,
		out:          tempOut(t),
		format:       "json",
		provider:     "mock",
		model:        "mock",
		maxTokens:    4096,
		temperature:  0.1,
		concurrency:  2,
		dedupMode:    "realtime",
		sortOrder:    "severity",
		failOn:       "none",
	}
}

// tempOut creates a temporary output file and returns its path.
func tempOut(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "triage-out-*.json")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	name := f.Name()
	f.Close()
	return name
}

func readReport(t *testing.T, path string) schema.Report {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var report schema.Report
	if err := json.Unmarshal(b, &report); err != nil {
		t.Fatalf("parse output JSON: %v", err)
	}
	return report
}

func findChecklist(report schema.Report, id string) (schema.ChecklistItem, bool) {
	for _, item := range report.Checklist {
		if item.ID == id {
			return item, true
		}
	}
	return schema.ChecklistItem{}, false
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func TestIntegration_CleanRun(t *testing.T) {
	mock := injectMock(t, confirmedVerdict)
	f := baseFlags(t, "findings.json")

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0, got %d: %v", code, err)
	}

	report := readReport(t, f.out)
	if report.Tool != "triage" || report.RunID == "" {
		t.Errorf("report header: tool %q, run id %q", report.Tool, report.RunID)
	}
	if got := report.Input.Agents; len(got) != 2 || got[0] != "security" || got[1] != "logic" {
		t.Errorf("input agents: got %v", got)
	}
	if report.Summary.TotalIssues != 3 || report.Summary.ConfirmedCount != 3 {
		t.Fatalf("summary: %d issues, %d confirmed", report.Summary.TotalIssues, report.Summary.ConfirmedCount)
	}

	// Severity sort: critical, then error, then warning.
	wantOrder := []string{"sec-001", "log-001", "sec-002"}
	for i, want := range wantOrder {
		if report.Issues[i].ID != want {
			t.Errorf("issue %d: got %s, want %s", i, report.Issues[i].ID, want)
		}
	}
	if report.Issues[0].ValidationStatus != schema.StatusConfirmed {
		t.Errorf("sec-001 status: %s", report.Issues[0].ValidationStatus)
	}
	if report.Issues[0].FinalConfidence != 0.92 {
		t.Errorf("sec-001 confidence: %v", report.Issues[0].FinalConfidence)
	}

	// The checklist covers the security and logic sections only: the one
	// answered question plus na backfill, never the unselected categories.
	if len(report.Checklist) != 7 {
		t.Errorf("checklist length: got %d, want 7", len(report.Checklist))
	}
	if item, ok := findChecklist(report, "sec-01"); !ok || item.Result != schema.ChecklistFail || item.Details == "" {
		t.Errorf("sec-01: %+v (found %v)", item, ok)
	}
	if item, ok := findChecklist(report, "log-01"); !ok || item.Result != schema.ChecklistNA || item.Question == "" {
		t.Errorf("log-01 backfill: %+v (found %v)", item, ok)
	}
	if _, ok := findChecklist(report, "prf-01"); ok {
		t.Error("performance questions backfilled without a performance agent")
	}
	if report.Summary.ChecklistFails != 1 {
		t.Errorf("checklist fails: got %d", report.Summary.ChecklistFails)
	}

	// One validation per finding, no gate calls: the findings never overlap.
	if got := mock.calls.Load(); got != 3 {
		t.Errorf("oracle calls: got %d, want 3", got)
	}
	if report.Stats.TokensUsed != 21 {
		t.Errorf("tokens used: got %d, want 21", report.Stats.TokensUsed)
	}
}

func TestIntegration_FailOn(t *testing.T) {
	injectMock(t, confirmedVerdict)
	f := baseFlags(t, "findings.json")
	f.failOn = "critical"

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != exitCodeFailOn {
		t.Errorf("expected exit %d (fail-on), got %d: %v", exitCodeFailOn, code, err)
	}

	// The report is still written before the gate trips.
	report := readReport(t, f.out)
	if report.Summary.TotalIssues != 3 {
		t.Errorf("report written before fail-on: got %d issues", report.Summary.TotalIssues)
	}
}

func TestIntegration_MissingFindings_ExitsThree(t *testing.T) {
	f := baseFlags(t, "findings.json")
	f.findingsFile = ""

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != exitCodeBadInput {
		t.Errorf("expected exit %d (bad input), got %d: %v", exitCodeBadInput, code, err)
	}
}

func TestIntegration_BadSort_ExitsThree(t *testing.T) {
	f := baseFlags(t, "findings.json")
	f.sortOrder = "sideways"

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != exitCodeBadInput {
		t.Errorf("expected exit %d (bad input), got %d: %v", exitCodeBadInput, code, err)
	}
}

func TestIntegration_ProviderError_ExitsFour(t *testing.T) {
	injectBrokenFactory(t)
	f := baseFlags(t, "findings.json")

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != exitCodeAPIError {
		t.Errorf("expected exit %d (API error), got %d: %v", exitCodeAPIError, code, err)
	}
}

func TestIntegration_UnwritableOut_ExitsFive(t *testing.T) {
	f := baseFlags(t, "findings.json")
	f.skipValidation = true
	f.dedupMode = "off"
	f.out = filepath.Join(t.TempDir(), "no-such-dir", "out.json")

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != exitCodeBadOutput {
		t.Errorf("expected exit %d (bad output), got %d: %v", exitCodeBadOutput, code, err)
	}
}

func TestIntegration_SkipValidationNeedsNoOracle(t *testing.T) {
	// Provider construction fails, but with validation skipped and dedup
	// off the pipeline never asks for one.
	injectBrokenFactory(t)
	f := baseFlags(t, "findings.json")
	f.skipValidation = true
	f.dedupMode = "off"

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0, got %d: %v", code, err)
	}

	report := readReport(t, f.out)
	if report.Summary.TotalIssues != 3 {
		t.Fatalf("issues: got %d, want 3", report.Summary.TotalIssues)
	}
	for _, issue := range report.Issues {
		if issue.ValidationStatus != schema.StatusUnvalidated {
			t.Errorf("%s: status %s, want unvalidated", issue.ID, issue.ValidationStatus)
		}
	}
	// Confidence passes through unchanged when validation is skipped.
	if report.Issues[0].ID != "sec-001" || report.Issues[0].FinalConfidence != 0.9 {
		t.Errorf("sec-001: %+v", report.Issues[0])
	}
	if report.Stats.TokensUsed != 0 {
		t.Errorf("tokens used without an oracle: %d", report.Stats.TokensUsed)
	}
}

func TestIntegration_RealtimeDuplicate(t *testing.T) {
	mock := injectMock(t, duplicateDecision)
	f := baseFlags(t, "findings_dup.json")
	f.skipValidation = true // isolate the gate: the only oracle call is the pair check

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0, got %d: %v", code, err)
	}

	report := readReport(t, f.out)
	if report.Summary.TotalIssues != 2 {
		t.Errorf("issues: got %d, want 2 (duplicate never stored)", report.Summary.TotalIssues)
	}
	for _, issue := range report.Issues {
		if issue.ID == "sec-002" {
			t.Error("gate-rejected sec-002 appeared in the report")
		}
	}
	if report.Stats.TotalReported != 3 {
		t.Errorf("total reported: got %d, want 3", report.Stats.TotalReported)
	}
	// One overlapping same-file pair, one oracle call.
	if got := mock.calls.Load(); got != 1 {
		t.Errorf("oracle calls: got %d, want 1", got)
	}
	if report.Stats.TokensUsed != 7 {
		t.Errorf("tokens used: got %d, want 7", report.Stats.TokensUsed)
	}
}

func TestIntegration_BatchDedup(t *testing.T) {
	mock := injectMock(t, batchGroups)
	f := baseFlags(t, "findings_dup.json")
	f.skipValidation = true
	f.dedupMode = "batch"
	f.includeRejected = true

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0, got %d: %v", code, err)
	}

	report := readReport(t, f.out)
	if report.Summary.TotalIssues != 3 || report.Summary.RejectedCount != 1 {
		t.Fatalf("summary: %d issues, %d rejected", report.Summary.TotalIssues, report.Summary.RejectedCount)
	}
	var dup schema.ValidatedIssue
	for _, issue := range report.Issues {
		if issue.ID == "sec-002" {
			dup = issue
		}
	}
	if dup.ValidationStatus != schema.StatusRejected {
		t.Errorf("sec-002 status: %s, want rejected", dup.ValidationStatus)
	}
	if !strings.HasPrefix(dup.RejectionReason, "duplicate of sec-001:") {
		t.Errorf("sec-002 rejection reason: %q", dup.RejectionReason)
	}
	if got := mock.calls.Load(); got != 1 {
		t.Errorf("oracle calls: got %d, want 1", got)
	}
}

func TestIntegration_MarkdownOutput(t *testing.T) {
	f := baseFlags(t, "findings.json")
	f.skipValidation = true
	f.dedupMode = "off"
	f.format = "markdown"

	err := runTriage(context.Background(), f)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0, got %d: %v", code, err)
	}

	out, rerr := os.ReadFile(f.out)
	if rerr != nil {
		t.Fatalf("read output: %v", rerr)
	}
	for _, want := range []string{"## Triage Report", "## Findings", "sec-001", "## Checklist"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("markdown output missing %q", want)
		}
	}
}
