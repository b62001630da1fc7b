package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/dshills/triage/internal/schema"
)

func TestValidatedIssue_JSONRoundTrip(t *testing.T) {
	original := &schema.ValidatedIssue{
		RawIssue: schema.RawIssue{
			ID:          "sec-001",
			File:        "internal/auth/token.go",
			LineStart:   42,
			LineEnd:     57,
			Category:    schema.CategorySecurity,
			Severity:    schema.SeverityCritical,
			Title:       "JWT signature not verified",
			Description: "ParseUnverified is used on the request token",
			Suggestion:  "use jwt.Parse with the signing key",
			CodeSnippet: "tok, _, err := parser.ParseUnverified(raw, claims)",
			Confidence:  0.9,
			SourceAgent: schema.BuiltinAgentOf(schema.AgentSecurity),
		},
		ValidationStatus: schema.StatusConfirmed,
		Evidence: schema.GroundingEvidence{
			CheckedFiles: []string{"internal/auth/token.go", "internal/auth/middleware.go"},
			CheckedSymbols: []schema.SymbolRef{
				{Name: "ParseToken", Type: "func", Locations: []string{"internal/auth/token.go:40"}},
			},
			RelatedContext: "middleware passes the raw header straight through",
			Reasoning:      "no verification happens on any path before claims are trusted",
		},
		FinalConfidence: 0.95,
	}

	b, err := json.MarshalIndent(original, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got schema.ValidatedIssue
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != original.ID {
		t.Errorf("ID mismatch: %q vs %q", got.ID, original.ID)
	}
	if got.SourceAgent.Name() != "security" {
		t.Errorf("SourceAgent mismatch: %q vs %q", got.SourceAgent.Name(), "security")
	}
	if got.ValidationStatus != schema.StatusConfirmed {
		t.Errorf("ValidationStatus mismatch: %q vs %q", got.ValidationStatus, schema.StatusConfirmed)
	}
	if got.FinalConfidence != original.FinalConfidence {
		t.Errorf("FinalConfidence mismatch: %v vs %v", got.FinalConfidence, original.FinalConfidence)
	}
	if len(got.Evidence.CheckedFiles) != 2 {
		t.Errorf("CheckedFiles length mismatch: %d vs 2", len(got.Evidence.CheckedFiles))
	}
	if len(got.Evidence.CheckedSymbols) != 1 || got.Evidence.CheckedSymbols[0].Name != "ParseToken" {
		t.Errorf("CheckedSymbols mismatch")
	}
}

func TestReport_JSONRoundTrip(t *testing.T) {
	original := &schema.Report{
		Tool:    "triage",
		Version: "0.1.0",
		RunID:   "3f2504e0-4f89-41d3-9a0c-0305e82c3301",
		Input: schema.Input{
			FindingsFile:  "findings.json",
			WorkspaceRoot: ".",
			Agents:        []string{"security", "logic"},
			SortOrder:     "severity",
		},
		Summary: schema.Summary{
			TotalIssues:    2,
			CriticalCount:  1,
			WarningCount:   1,
			ConfirmedCount: 2,
		},
		Issues: []schema.ValidatedIssue{
			{
				RawIssue: schema.RawIssue{
					ID:          "sec-001",
					File:        "main.go",
					LineStart:   10,
					LineEnd:     12,
					Category:    schema.CategorySecurity,
					Severity:    schema.SeverityCritical,
					Title:       "hardcoded credential",
					Description: "API key committed in source",
					Confidence:  0.95,
					SourceAgent: schema.BuiltinAgentOf(schema.AgentSecurity),
				},
				ValidationStatus: schema.StatusConfirmed,
				FinalConfidence:  0.95,
			},
		},
		Checklist: []schema.ChecklistItem{
			{
				ID:       "sec-01",
				Category: schema.CategorySecurity,
				Question: "Are all inputs validated?",
				Result:   schema.ChecklistFail,
				Details:  "query params flow unchecked into the DB layer",
			},
		},
		Stats: schema.CollectorStats{
			TotalReported: 2,
			Validated:     2,
			TokensUsed:    3100,
		},
		Meta: schema.Meta{Model: "claude-sonnet-4-5", Temperature: 0.2},
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got schema.Report
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != original.RunID {
		t.Errorf("RunID mismatch: %q vs %q", got.RunID, original.RunID)
	}
	if len(got.Issues) != 1 || got.Issues[0].ID != "sec-001" {
		t.Errorf("Issues mismatch")
	}
	if len(got.Checklist) != 1 || got.Checklist[0].Result != schema.ChecklistFail {
		t.Errorf("Checklist mismatch")
	}
	if got.Stats.TokensUsed != 3100 {
		t.Errorf("TokensUsed mismatch: %d vs 3100", got.Stats.TokensUsed)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    schema.Category
		wantErr bool
	}{
		{"security", schema.CategorySecurity, false},
		{"logic", schema.CategoryLogic, false},
		{"performance", schema.CategoryPerformance, false},
		{"style", schema.CategoryStyle, false},
		{"maintainability", schema.CategoryMaintainability, false},
		{"SECURITY", "", true},
		{"bugs", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := schema.ParseCategory(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCategory(%q) expected error, got %q", tc.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCategory(%q) unexpected error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestCategoryPrefix(t *testing.T) {
	tests := []struct {
		c    schema.Category
		want string
	}{
		{schema.CategorySecurity, "sec"},
		{schema.CategoryLogic, "log"},
		{schema.CategoryPerformance, "prf"},
		{schema.CategoryStyle, "sty"},
		{schema.CategoryMaintainability, "mnt"},
		{schema.Category("docs"), "doc"},
		{schema.Category("ux"), "uxx"},
	}
	for _, tc := range tests {
		if got := tc.c.Prefix(); got != tc.want {
			t.Errorf("Category(%q).Prefix() = %q, want %q", tc.c, got, tc.want)
		}
	}
}

func TestParseValidationStatus(t *testing.T) {
	valid := []string{"pending", "confirmed", "rejected", "uncertain", "unvalidated"}
	for _, s := range valid {
		if _, err := schema.ParseValidationStatus(s); err != nil {
			t.Errorf("ParseValidationStatus(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := schema.ParseValidationStatus("validated"); err == nil {
		t.Errorf("ParseValidationStatus(%q) expected error", "validated")
	}
}

func TestSeverityRank(t *testing.T) {
	tests := []struct {
		s    schema.Severity
		want int
	}{
		{schema.SeverityCritical, 4},
		{schema.SeverityError, 3},
		{schema.SeverityWarning, 2},
		{schema.SeveritySuggestion, 1},
		{schema.Severity("bogus"), 0},
	}
	for _, tc := range tests {
		if got := schema.SeverityRank(tc.s); got != tc.want {
			t.Errorf("SeverityRank(%q) = %d, want %d", tc.s, got, tc.want)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tc := range tests {
		if got := schema.ClampConfidence(tc.in); got != tc.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
