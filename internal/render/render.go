// Package render produces output from a fully assembled schema.Report.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/triage/internal/aggregate"
	"github.com/dshills/triage/internal/schema"
)

// RenderJSON produces a pretty-printed JSON representation of the report.
// The output round-trips through json.Unmarshal back to an equal Report.
func RenderJSON(report *schema.Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("render: nil report")
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a GitHub-flavoured Markdown summary of the report,
// suitable for PR comments or terminal output. Every issue and checklist id
// present in the report will appear in the output.
func RenderMarkdown(report *schema.Report) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder

	// Summary section.
	sb.WriteString("## Triage Report\n\n")
	if report.RunID != "" {
		fmt.Fprintf(&sb, "**Run:** %s  \n", report.RunID)
	}
	fmt.Fprintf(&sb, "**Issues:** %d  \n", report.Summary.TotalIssues)
	fmt.Fprintf(&sb, "**Critical:** %d | **Error:** %d | **Warning:** %d | **Suggestion:** %d  \n",
		report.Summary.CriticalCount, report.Summary.ErrorCount,
		report.Summary.WarningCount, report.Summary.SuggestionCount)
	fmt.Fprintf(&sb, "**Confirmed:** %d | **Uncertain:** %d | **Rejected:** %d | **Checklist failures:** %d\n\n",
		report.Summary.ConfirmedCount, report.Summary.UncertainCount,
		report.Summary.RejectedCount, report.Summary.ChecklistFails)

	// Findings.
	if len(report.Issues) > 0 {
		sb.WriteString("## Findings\n\n")
		for _, issue := range report.Issues {
			writeIssue(&sb, issue)
		}
	}

	// Checklist table.
	if len(report.Checklist) > 0 {
		sb.WriteString("## Checklist\n\n")
		sb.WriteString("| ID | Result | Question | Details | Related |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, item := range report.Checklist {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				item.ID, item.Result, mdEscape(item.Question),
				mdEscape(item.Details), strings.Join(item.RelatedIssues, ", "))
		}
		sb.WriteString("\n")
	}

	// Run stats.
	fmt.Fprintf(&sb, "## Stats\n\n%d reported | %d validated | %d pending | %d tokens\n",
		report.Stats.TotalReported, report.Stats.Validated,
		report.Stats.ValidationPending, report.Stats.TokensUsed)

	return sb.String()
}

// writeIssue renders one finding as a collapsible details block.
func writeIssue(sb *strings.Builder, issue schema.ValidatedIssue) {
	fmt.Fprintf(sb, "<details>\n<summary><strong>%s</strong> [%s/%s] — %s</summary>\n\n",
		issue.ID, aggregate.EffectiveSeverity(issue), issue.ValidationStatus, mdEscape(issue.Title))
	fmt.Fprintf(sb, "`%s:%d-%d` | %s | confidence %.2f | reported by %s\n\n",
		issue.File, issue.LineStart, issue.LineEnd, issue.Category,
		issue.FinalConfidence, issue.SourceAgent)

	desc := issue.Description
	if issue.RevisedDescription != "" {
		desc = issue.RevisedDescription
	}
	if desc != "" {
		sb.WriteString(desc + "\n\n")
	}
	if issue.CodeSnippet != "" {
		fmt.Fprintf(sb, "```\n%s\n```\n\n", issue.CodeSnippet)
	}
	if issue.Suggestion != "" {
		fmt.Fprintf(sb, "**Suggestion:** %s\n\n", mdEscape(issue.Suggestion))
	}
	writeEvidence(sb, issue.Evidence)
	if issue.RejectionReason != "" {
		fmt.Fprintf(sb, "**Rejected:** %s\n\n", mdEscape(issue.RejectionReason))
	}
	sb.WriteString("</details>\n\n")
}

// writeEvidence renders the grounding trail into sb.
func writeEvidence(sb *strings.Builder, ev schema.GroundingEvidence) {
	if len(ev.CheckedFiles) > 0 || len(ev.CheckedSymbols) > 0 {
		sb.WriteString("**Evidence:**\n\n")
		for _, f := range ev.CheckedFiles {
			fmt.Fprintf(sb, "- `%s`\n", f)
		}
		for _, sym := range ev.CheckedSymbols {
			line := fmt.Sprintf("- `%s`", sym.Name)
			if sym.Type != "" {
				line += fmt.Sprintf(" (%s)", sym.Type)
			}
			if len(sym.Locations) > 0 {
				line += " at " + strings.Join(sym.Locations, ", ")
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}
	if ev.Reasoning != "" {
		fmt.Fprintf(sb, "**Reasoning:** %s\n\n", mdEscape(ev.Reasoning))
	}
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
