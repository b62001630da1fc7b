// Package aggregate turns the settled issue set into final report content:
// filter, deterministic sort, checklist merge and summary counts. Pure
// functions; inputs are never modified.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/dshills/triage/internal/schema"
)

// SortOrder selects one of the four supported total orders.
type SortOrder string

const (
	SortSeverity   SortOrder = "severity"
	SortConfidence SortOrder = "confidence"
	SortFile       SortOrder = "file"
	SortCategory   SortOrder = "category"
)

// ParseSortOrder converts a string to a SortOrder constant.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case SortSeverity, SortConfidence, SortFile, SortCategory:
		return SortOrder(s), nil
	}
	return "", fmt.Errorf("aggregate: unknown sort order %q", s)
}

// Options control filtering and ordering.
type Options struct {
	// IncludeRejected keeps rejected findings in the output. Uncertain
	// findings are always kept.
	IncludeRejected bool
	// MinConfidence drops findings below the floor. Zero means no floor;
	// raising it only ever shrinks the output set.
	MinConfidence float64
	// Sort defaults to SortSeverity.
	Sort SortOrder
}

// Result is the aggregated report content.
type Result struct {
	Issues    []schema.ValidatedIssue
	Checklist []schema.ChecklistItem
	Summary   schema.Summary
}

// Aggregate filters and sorts the settled findings and merges checklist
// answers. Deterministic: identical input always produces identical output.
// Summary status counts cover the whole input set; severity counts describe
// the filtered report.
func Aggregate(issues []schema.ValidatedIssue, checklist []schema.ChecklistItem, opts Options) *Result {
	if opts.Sort == "" {
		opts.Sort = SortSeverity
	}

	filtered := make([]schema.ValidatedIssue, 0, len(issues))
	for _, vi := range issues {
		if vi.ValidationStatus == schema.StatusRejected && !opts.IncludeRejected {
			continue
		}
		if opts.MinConfidence > 0 && vi.FinalConfidence < opts.MinConfidence {
			continue
		}
		filtered = append(filtered, vi)
	}
	sortIssues(filtered, opts.Sort)

	merged := MergeChecklist(checklist)
	return &Result{
		Issues:    filtered,
		Checklist: merged,
		Summary:   summarize(issues, filtered, merged),
	}
}

// EffectiveSeverity is the severity a report should use for a finding: the
// validator's revision when present, otherwise the agent's original grade.
func EffectiveSeverity(vi schema.ValidatedIssue) schema.Severity {
	if vi.RevisedSeverity != "" {
		return vi.RevisedSeverity
	}
	return vi.Severity
}

func sortIssues(issues []schema.ValidatedIssue, order SortOrder) {
	var less func(a, b schema.ValidatedIssue) bool
	switch order {
	case SortConfidence:
		less = func(a, b schema.ValidatedIssue) bool {
			if a.FinalConfidence != b.FinalConfidence {
				return a.FinalConfidence > b.FinalConfidence
			}
			ra, rb := schema.SeverityRank(EffectiveSeverity(a)), schema.SeverityRank(EffectiveSeverity(b))
			if ra != rb {
				return ra > rb
			}
			return a.ID < b.ID
		}
	case SortFile:
		less = func(a, b schema.ValidatedIssue) bool {
			if a.File != b.File {
				return a.File < b.File
			}
			if a.LineStart != b.LineStart {
				return a.LineStart < b.LineStart
			}
			return a.ID < b.ID
		}
	case SortCategory:
		less = func(a, b schema.ValidatedIssue) bool {
			if a.Category != b.Category {
				return a.Category < b.Category
			}
			ra, rb := schema.SeverityRank(EffectiveSeverity(a)), schema.SeverityRank(EffectiveSeverity(b))
			if ra != rb {
				return ra > rb
			}
			return a.ID < b.ID
		}
	default: // SortSeverity
		less = func(a, b schema.ValidatedIssue) bool {
			ra, rb := schema.SeverityRank(EffectiveSeverity(a)), schema.SeverityRank(EffectiveSeverity(b))
			if ra != rb {
				return ra > rb
			}
			if a.FinalConfidence != b.FinalConfidence {
				return a.FinalConfidence > b.FinalConfidence
			}
			return a.ID < b.ID
		}
	}
	sort.Slice(issues, func(i, j int) bool { return less(issues[i], issues[j]) })
}

// MergeChecklist merges checklist answers by id: a failing result always
// wins over pass, pass over na; related_issues are unioned and sorted;
// non-empty details are preferred. Output is ordered by id. Idempotent.
func MergeChecklist(items []schema.ChecklistItem) []schema.ChecklistItem {
	merged := make(map[string]schema.ChecklistItem)
	related := make(map[string]map[string]bool)
	for _, item := range items {
		rel := related[item.ID]
		if rel == nil {
			rel = make(map[string]bool)
			related[item.ID] = rel
		}
		for _, id := range item.RelatedIssues {
			rel[id] = true
		}

		cur, ok := merged[item.ID]
		if !ok {
			merged[item.ID] = item
			continue
		}
		switch {
		case resultPriority(item.Result) > resultPriority(cur.Result):
			if item.Details == "" {
				item.Details = cur.Details
			}
			merged[item.ID] = item
		case cur.Details == "" && item.Details != "":
			cur.Details = item.Details
			merged[item.ID] = cur
		}
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]schema.ChecklistItem, 0, len(merged))
	for _, id := range ids {
		item := merged[id]
		if rel := related[id]; len(rel) > 0 {
			rels := make([]string, 0, len(rel))
			for r := range rel {
				rels = append(rels, r)
			}
			sort.Strings(rels)
			item.RelatedIssues = rels
		} else {
			item.RelatedIssues = nil
		}
		out = append(out, item)
	}
	return out
}

func resultPriority(r schema.ChecklistResult) int {
	switch r {
	case schema.ChecklistFail:
		return 2
	case schema.ChecklistPass:
		return 1
	default:
		return 0
	}
}

func summarize(all, filtered []schema.ValidatedIssue, checklist []schema.ChecklistItem) schema.Summary {
	var s schema.Summary
	s.TotalIssues = len(filtered)
	for _, vi := range filtered {
		switch EffectiveSeverity(vi) {
		case schema.SeverityCritical:
			s.CriticalCount++
		case schema.SeverityError:
			s.ErrorCount++
		case schema.SeverityWarning:
			s.WarningCount++
		case schema.SeveritySuggestion:
			s.SuggestionCount++
		}
	}
	for _, vi := range all {
		switch vi.ValidationStatus {
		case schema.StatusConfirmed:
			s.ConfirmedCount++
		case schema.StatusRejected:
			s.RejectedCount++
		case schema.StatusUncertain:
			s.UncertainCount++
		}
	}
	for _, item := range checklist {
		if item.Result == schema.ChecklistFail {
			s.ChecklistFails++
		}
	}
	return s
}
