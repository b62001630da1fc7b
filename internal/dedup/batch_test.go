package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/triage/internal/llm"
	"github.com/dshills/triage/internal/schema"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
	lastUser string
}

func (f *fakeProvider) Complete(_ context.Context, _, user string, _ int, _ float64) (llm.Completion, error) {
	f.calls++
	f.lastUser = user
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.response, TokensUsed: 42}, nil
}

func validatedIssue(id, file string, start, end int, status schema.ValidationStatus) schema.ValidatedIssue {
	return schema.ValidatedIssue{
		RawIssue:         rawIssue(id, file, start, end),
		ValidationStatus: status,
		Evidence:         schema.GroundingEvidence{Reasoning: "checked"},
		FinalConfidence:  0.7,
	}
}

func TestDeduplicateBatchMarksDuplicates(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
		validatedIssue("prf-001", "cache.go", 5, 9, schema.StatusUncertain),
	}
	provider := &fakeProvider{
		response: `{"groups": [{"kept_id": "sec-001", "duplicate_ids": ["log-001"], "reason": "same missing bounds check"}]}`,
	}

	out, removals, tokens := DeduplicateBatch(context.Background(), provider, issues, nil)

	if tokens != 42 {
		t.Errorf("tokens = %d, want 42", tokens)
	}
	if out[0].ValidationStatus != schema.StatusConfirmed {
		t.Errorf("kept issue status = %q, want confirmed", out[0].ValidationStatus)
	}
	if out[1].ValidationStatus != schema.StatusRejected {
		t.Errorf("duplicate status = %q, want rejected", out[1].ValidationStatus)
	}
	wantReason := "duplicate of sec-001: same missing bounds check"
	if out[1].RejectionReason != wantReason {
		t.Errorf("RejectionReason = %q, want %q", out[1].RejectionReason, wantReason)
	}
	if out[2].ValidationStatus != schema.StatusUncertain {
		t.Errorf("unrelated issue status changed to %q", out[2].ValidationStatus)
	}
	want := Removal{RejectedID: "log-001", KeptID: "sec-001", Reason: "same missing bounds check"}
	if len(removals) != 1 || removals[0] != want {
		t.Errorf("removals = %+v, want [%+v]", removals, want)
	}
	if issues[1].ValidationStatus != schema.StatusConfirmed {
		t.Error("input slice was mutated")
	}
}

func TestDeduplicateBatchNoDuplicates(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("prf-001", "cache.go", 5, 9, schema.StatusConfirmed),
	}
	provider := &fakeProvider{response: `{"groups": []}`}

	out, removals, tokens := DeduplicateBatch(context.Background(), provider, issues, nil)
	if len(removals) != 0 {
		t.Errorf("removals = %+v, want none", removals)
	}
	if tokens != 42 {
		t.Errorf("tokens = %d, want 42", tokens)
	}
	for i := range out {
		if out[i].ValidationStatus != issues[i].ValidationStatus {
			t.Errorf("issue %s status changed", out[i].ID)
		}
	}
}

func TestDeduplicateBatchUnknownIDsIgnored(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
	}
	provider := &fakeProvider{
		response: `{"groups": [
			{"kept_id": "ghost-001", "duplicate_ids": ["sec-001"], "reason": "invented"},
			{"kept_id": "sec-001", "duplicate_ids": ["ghost-002", "log-001"], "reason": "overlapping report"}
		]}`,
	}

	out, removals, _ := DeduplicateBatch(context.Background(), provider, issues, nil)

	if out[0].ValidationStatus != schema.StatusConfirmed {
		t.Errorf("sec-001 status = %q, want confirmed (unknown kept id group must be skipped)", out[0].ValidationStatus)
	}
	if out[1].ValidationStatus != schema.StatusRejected {
		t.Errorf("log-001 status = %q, want rejected", out[1].ValidationStatus)
	}
	if len(removals) != 1 || removals[0].RejectedID != "log-001" {
		t.Errorf("removals = %+v, want only log-001", removals)
	}
}

func TestDeduplicateBatchIssueInOneGroupOnly(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("sec-002", "db.go", 30, 40, schema.StatusConfirmed),
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
	}
	provider := &fakeProvider{
		response: `{"groups": [
			{"kept_id": "sec-001", "duplicate_ids": ["log-001"], "reason": "first"},
			{"kept_id": "sec-002", "duplicate_ids": ["log-001"], "reason": "second"}
		]}`,
	}

	out, removals, _ := DeduplicateBatch(context.Background(), provider, issues, nil)

	if len(removals) != 1 {
		t.Fatalf("removals = %+v, want exactly one", removals)
	}
	if out[2].RejectionReason != "duplicate of sec-001: first" {
		t.Errorf("RejectionReason = %q, want the first group's", out[2].RejectionReason)
	}
}

func TestDeduplicateBatchSelfKeptDropped(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
	}
	provider := &fakeProvider{
		response: `{"groups": [{"kept_id": "sec-001", "duplicate_ids": ["sec-001", "log-001"], "reason": "tangled"}]}`,
	}

	out, removals, _ := DeduplicateBatch(context.Background(), provider, issues, nil)

	if out[0].ValidationStatus != schema.StatusConfirmed {
		t.Errorf("kept issue rejected itself: status = %q", out[0].ValidationStatus)
	}
	if len(removals) != 1 || removals[0].RejectedID != "log-001" {
		t.Errorf("removals = %+v, want only log-001", removals)
	}
}

func TestDeduplicateBatchOracleFailureKeepsAll(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
	}
	provider := &fakeProvider{err: errors.New("overloaded")}

	out, removals, tokens := DeduplicateBatch(context.Background(), provider, issues, nil)
	if removals != nil {
		t.Errorf("removals = %+v, want nil", removals)
	}
	if tokens != 0 {
		t.Errorf("tokens = %d, want 0", tokens)
	}
	for i := range out {
		if out[i].ValidationStatus != issues[i].ValidationStatus {
			t.Errorf("issue %s status changed on oracle failure", out[i].ID)
		}
	}
}

func TestDeduplicateBatchMalformedResponseKeepsAll(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
	}
	provider := &fakeProvider{response: "I could not find any duplicates, sorry."}

	out, removals, tokens := DeduplicateBatch(context.Background(), provider, issues, nil)
	if removals != nil {
		t.Errorf("removals = %+v, want nil", removals)
	}
	if tokens != 42 {
		t.Errorf("tokens = %d, want 42 (the call was made)", tokens)
	}
	if out[1].ValidationStatus != schema.StatusConfirmed {
		t.Errorf("status changed on malformed response")
	}
}

func TestDeduplicateBatchRejectedIssuesNotSent(t *testing.T) {
	rejected := validatedIssue("sty-001", "db.go", 1, 3, schema.StatusRejected)
	rejected.RejectionReason = "style noise"
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
		rejected,
	}
	provider := &fakeProvider{
		response: `{"groups": [{"kept_id": "sec-001", "duplicate_ids": ["sty-001"], "reason": "reused"}]}`,
	}

	out, removals, _ := DeduplicateBatch(context.Background(), provider, issues, nil)

	if strings.Contains(provider.lastUser, "sty-001") {
		t.Error("rejected issue was sent to the oracle")
	}
	if !strings.Contains(provider.lastUser, "sec-001") || !strings.Contains(provider.lastUser, "log-001") {
		t.Error("live issues missing from oracle payload")
	}
	if out[2].RejectionReason != "style noise" {
		t.Errorf("rejected issue re-marked: reason = %q", out[2].RejectionReason)
	}
	if len(removals) != 0 {
		t.Errorf("removals = %+v, want none", removals)
	}
}

func TestDeduplicateBatchSingleLiveIssueSkipsOracle(t *testing.T) {
	issues := []schema.ValidatedIssue{
		validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed),
		validatedIssue("sty-001", "db.go", 1, 3, schema.StatusRejected),
	}
	provider := &fakeProvider{response: `{"groups": []}`}

	_, _, tokens := DeduplicateBatch(context.Background(), provider, issues, nil)
	if provider.calls != 0 {
		t.Errorf("oracle called %d times for a single live issue, want 0", provider.calls)
	}
	if tokens != 0 {
		t.Errorf("tokens = %d, want 0", tokens)
	}
}

func TestDeduplicateBatchUsesRevisedDescription(t *testing.T) {
	is := validatedIssue("sec-001", "db.go", 10, 20, schema.StatusConfirmed)
	is.RevisedDescription = "narrowed to the unsanitized query parameter"
	issues := []schema.ValidatedIssue{
		is,
		validatedIssue("log-001", "db.go", 12, 18, schema.StatusConfirmed),
	}
	provider := &fakeProvider{response: `{"groups": []}`}

	DeduplicateBatch(context.Background(), provider, issues, nil)

	if !strings.Contains(provider.lastUser, "narrowed to the unsanitized query parameter") {
		t.Error("revised description not used in oracle payload")
	}
	if strings.Contains(provider.lastUser, "description for sec-001") {
		t.Error("original description sent despite revision")
	}
}
