// Package schema defines the canonical data types exchanged between pipeline stages.
package schema

import (
	"fmt"
	"strings"
)

// Category classifies a finding by the kind of problem it describes.
type Category string

const (
	CategorySecurity        Category = "security"
	CategoryLogic           Category = "logic"
	CategoryPerformance     Category = "performance"
	CategoryStyle           Category = "style"
	CategoryMaintainability Category = "maintainability"
)

// Categories lists all valid categories in canonical order.
var Categories = []Category{
	CategorySecurity,
	CategoryLogic,
	CategoryPerformance,
	CategoryStyle,
	CategoryMaintainability,
}

// ParseCategory converts a string to a Category constant.
// Returns an error for unrecognized values.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategorySecurity, CategoryLogic, CategoryPerformance,
		CategoryStyle, CategoryMaintainability:
		return Category(s), nil
	}
	return "", fmt.Errorf("schema: unknown category %q", s)
}

// Prefix returns the three-letter id prefix for the category, the scheme
// shared by issue ids (sec-001) and checklist ids (sec-01). Unrecognized
// categories derive a prefix from their name the way custom agents do.
func (c Category) Prefix() string {
	switch c {
	case CategorySecurity:
		return "sec"
	case CategoryLogic:
		return "log"
	case CategoryPerformance:
		return "prf"
	case CategoryStyle:
		return "sty"
	case CategoryMaintainability:
		return "mnt"
	}
	p := strings.ToLower(string(c))
	if len(p) > 3 {
		p = p[:3]
	}
	for len(p) < 3 {
		p += "x"
	}
	return p
}

// Severity grades how serious a finding is.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
)

// ParseSeverity converts a string to a Severity constant.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityCritical, SeverityError, SeverityWarning, SeveritySuggestion:
		return Severity(s), nil
	}
	return "", fmt.Errorf("schema: unknown severity %q", s)
}

// SeverityRank returns the numeric ordinal for a severity, highest first.
// critical=4, error=3, warning=2, suggestion=1, unknown=0.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeveritySuggestion:
		return 1
	default:
		return 0
	}
}

// ValidationStatus is the verdict of the grounding pass on one issue.
type ValidationStatus string

const (
	// StatusPending marks an issue whose validation has been enqueued but has
	// not yet settled. It never appears in final output.
	StatusPending ValidationStatus = "pending"
	// StatusConfirmed means the grounding pass upheld the issue.
	StatusConfirmed ValidationStatus = "confirmed"
	// StatusRejected means the grounding pass found the issue to be a false
	// positive.
	StatusRejected ValidationStatus = "rejected"
	// StatusUncertain means validation could not reach a verdict (oracle
	// failure, unparseable response); the issue survives at reduced confidence.
	StatusUncertain ValidationStatus = "uncertain"
	// StatusUnvalidated marks issues from runs where validation was disabled.
	StatusUnvalidated ValidationStatus = "unvalidated"
)

// ParseValidationStatus converts a string to a ValidationStatus constant.
func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch ValidationStatus(s) {
	case StatusPending, StatusConfirmed, StatusRejected,
		StatusUncertain, StatusUnvalidated:
		return ValidationStatus(s), nil
	}
	return "", fmt.Errorf("schema: unknown validation status %q", s)
}

// RawIssue is one finding as reported by a specialist agent, after the
// collector has assigned its id. Immutable once created.
type RawIssue struct {
	ID          string   `json:"id"`
	File        string   `json:"file"`
	LineStart   int      `json:"line_start"`
	LineEnd     int      `json:"line_end"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
	CodeSnippet string   `json:"code_snippet,omitempty"`
	Confidence  float64  `json:"confidence"`
	SourceAgent Agent    `json:"source_agent"`
}

// IssueReport is the inbound payload of a report call: a RawIssue minus the
// collector-assigned id and source agent.
type IssueReport struct {
	File        string   `json:"file"`
	LineStart   int      `json:"line_start"`
	LineEnd     int      `json:"line_end"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
	CodeSnippet string   `json:"code_snippet,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// SymbolRef names a symbol the validator inspected while grounding a verdict.
type SymbolRef struct {
	Name      string   `json:"name"`
	Type      string   `json:"type,omitempty"`
	Locations []string `json:"locations,omitempty"`
}

// GroundingEvidence records the inspection trail behind a validation verdict.
type GroundingEvidence struct {
	CheckedFiles   []string    `json:"checked_files"`
	CheckedSymbols []SymbolRef `json:"checked_symbols"`
	RelatedContext string      `json:"related_context,omitempty"`
	Reasoning      string      `json:"reasoning"`
}

// ValidatedIssue is a RawIssue plus the outcome of its grounding pass.
// Exactly one ValidatedIssue exists per raw issue id.
type ValidatedIssue struct {
	RawIssue
	ValidationStatus   ValidationStatus  `json:"validation_status"`
	Evidence           GroundingEvidence `json:"grounding_evidence"`
	FinalConfidence    float64           `json:"final_confidence"`
	RejectionReason    string            `json:"rejection_reason,omitempty"`
	RevisedDescription string            `json:"revised_description,omitempty"`
	RevisedSeverity    Severity          `json:"revised_severity,omitempty"`
}

// ChecklistResult is the answer an agent gave to one checklist question.
type ChecklistResult string

const (
	ChecklistPass ChecklistResult = "pass"
	ChecklistFail ChecklistResult = "fail"
	ChecklistNA   ChecklistResult = "na"
)

// ParseChecklistResult converts a string to a ChecklistResult constant.
func ParseChecklistResult(s string) (ChecklistResult, error) {
	switch ChecklistResult(s) {
	case ChecklistPass, ChecklistFail, ChecklistNA:
		return ChecklistResult(s), nil
	}
	return "", fmt.Errorf("schema: unknown checklist result %q", s)
}

// ChecklistItem is one answered review-checklist question. Multiple agents
// may answer the same id; answers are merged, never duplicated.
type ChecklistItem struct {
	ID            string          `json:"id"`
	Category      Category        `json:"category"`
	Question      string          `json:"question"`
	Result        ChecklistResult `json:"result"`
	Details       string          `json:"details,omitempty"`
	RelatedIssues []string        `json:"related_issues,omitempty"`
}

// CollectorStats are the run-scoped monotonic counters owned by the collector.
type CollectorStats struct {
	TotalReported     int `json:"total_reported"`
	Validated         int `json:"validated"`
	ValidationPending int `json:"validation_pending"`
	TokensUsed        int `json:"tokens_used"`
}

// ClampConfidence forces a confidence value into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
