// Package validate runs the grounding pass: an independent oracle
// investigation of each reported finding against the actual workspace,
// producing a confirmed, rejected or uncertain verdict.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/triage/internal/llm"
	"github.com/dshills/triage/internal/pool"
	"github.com/dshills/triage/internal/rubric"
	"github.com/dshills/triage/internal/schema"
	"github.com/dshills/triage/internal/workspace"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.1

	// snippetContext is how many lines around the finding's range are shown
	// to the oracle.
	snippetContext = 10

	// maxRepairQuote bounds how much of a broken response is quoted back in
	// the repair prompt.
	maxRepairQuote = 2000
)

// Options configure a Validator. Provider is required; a nil Inventory
// disables workspace grounding and file verification.
type Options struct {
	Provider    llm.Provider
	Inventory   *workspace.Inventory
	MaxTokens   int
	Temperature float64
	Logger      *zap.SugaredLogger
}

// Validator grounds raw findings. Safe for concurrent use.
type Validator struct {
	provider    llm.Provider
	inv         *workspace.Inventory
	maxTokens   int
	temperature float64
	logger      *zap.SugaredLogger
}

// New returns a Validator with defaults applied.
func New(opts Options) *Validator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Validator{
		provider:    opts.Provider,
		inv:         opts.Inventory,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      opts.Logger,
	}
}

// verdict is the oracle's response body.
type verdict struct {
	ValidationStatus   string                   `json:"validation_status"`
	Evidence           schema.GroundingEvidence `json:"grounding_evidence"`
	FinalConfidence    float64                  `json:"final_confidence"`
	RejectionReason    string                   `json:"rejection_reason"`
	RevisedDescription string                   `json:"revised_description"`
	RevisedSeverity    string                   `json:"revised_severity"`
}

// Validate grounds one finding and returns its settled verdict plus provider
// token usage. It never fails: oracle errors and unusable responses degrade
// to an uncertain verdict at half the reported confidence.
func (v *Validator) Validate(ctx context.Context, issue schema.RawIssue) (schema.ValidatedIssue, int) {
	system := v.systemPrompt(issue.Category)
	user := v.userPrompt(issue)

	tokens := 0
	comp, err := v.provider.Complete(ctx, system, user, v.maxTokens, v.temperature)
	tokens += comp.TokensUsed
	if err != nil {
		v.logger.Warnw("validation oracle failed", "issue", issue.ID, "err", err)
		return uncertainFallback(issue, "validation oracle call failed: "+err.Error()), tokens
	}

	var verd verdict
	if derr := llm.DecodeObject(comp.Text, &verd); derr != nil {
		v.logger.Warnw("validation response unparseable, attempting repair",
			"issue", issue.ID, "err", derr, "excerpt", excerpt(comp.Text))
		repair := fmt.Sprintf(
			"Your previous response could not be parsed:\n\n%s\n\nRespond again with only the JSON verdict object, no other text.",
			truncateText(comp.Text, maxRepairQuote))
		rcomp, rerr := v.provider.Complete(ctx, system, repair, v.maxTokens, v.temperature)
		tokens += rcomp.TokensUsed
		if rerr != nil {
			v.logger.Warnw("validation repair call failed", "issue", issue.ID, "err", rerr)
			return uncertainFallback(issue, "validation response unparseable and repair call failed: "+rerr.Error()), tokens
		}
		if derr = llm.DecodeObject(rcomp.Text, &verd); derr != nil {
			v.logger.Warnw("validation response unusable after repair",
				"issue", issue.ID, "err", derr, "excerpt", excerpt(rcomp.Text))
			return uncertainFallback(issue, "validation response could not be parsed: "+derr.Error()), tokens
		}
	}

	return v.applyVerdict(issue, verd), tokens
}

// applyVerdict merges an oracle verdict into a settled ValidatedIssue,
// discarding the parts that fail shape checks.
func (v *Validator) applyVerdict(issue schema.RawIssue, verd verdict) schema.ValidatedIssue {
	out := schema.ValidatedIssue{
		RawIssue: issue,
		Evidence: verd.Evidence,
	}

	status, err := schema.ParseValidationStatus(verd.ValidationStatus)
	if err != nil || (status != schema.StatusConfirmed && status != schema.StatusRejected && status != schema.StatusUncertain) {
		v.logger.Warnw("oracle returned invalid validation status",
			"issue", issue.ID, "status", verd.ValidationStatus)
		out.ValidationStatus = schema.StatusUncertain
		out.FinalConfidence = schema.ClampConfidence(issue.Confidence * 0.5)
		out.Evidence.Reasoning = appendNote(out.Evidence.Reasoning,
			fmt.Sprintf("oracle returned invalid status %q", verd.ValidationStatus))
		return out
	}

	out.ValidationStatus = status
	out.FinalConfidence = schema.ClampConfidence(verd.FinalConfidence)
	out.RejectionReason = verd.RejectionReason
	out.RevisedDescription = verd.RevisedDescription
	if verd.RevisedSeverity != "" {
		if sev, serr := schema.ParseSeverity(verd.RevisedSeverity); serr == nil {
			out.RevisedSeverity = sev
		} else {
			v.logger.Warnw("discarding invalid revised severity",
				"issue", issue.ID, "severity", verd.RevisedSeverity)
		}
	}

	if v.inv != nil && len(out.Evidence.CheckedFiles) > 0 {
		kept := make([]string, 0, len(out.Evidence.CheckedFiles))
		var missing []string
		for _, f := range out.Evidence.CheckedFiles {
			if v.inv.HasFile(f) {
				kept = append(kept, f)
			} else {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			v.logger.Warnw("oracle cited files outside the workspace",
				"issue", issue.ID, "files", missing)
			out.Evidence.CheckedFiles = kept
			out.Evidence.Reasoning = appendNote(out.Evidence.Reasoning,
				"dropped cited files not in workspace: "+strings.Join(missing, ", "))
		}
	}
	return out
}

// Progress is called once per settled validation in a batch.
type Progress func(current, total int, issueID string)

// ValidateBatch validates issues on a bounded pool. Results are keyed to
// input order regardless of completion order; one finding's failure never
// cancels the rest. onProgress, when non-nil, fires once per settled item
// with the running settled count.
func (v *Validator) ValidateBatch(ctx context.Context, issues []schema.RawIssue, limit int, onProgress Progress) ([]schema.ValidatedIssue, int) {
	total := len(issues)
	var (
		mu      sync.Mutex
		settled int
		tokens  int
	)

	tasks := make([]pool.Task[schema.ValidatedIssue], total)
	for i, issue := range issues {
		tasks[i] = func(ctx context.Context) (schema.ValidatedIssue, error) {
			out, used := v.Validate(ctx, issue)
			mu.Lock()
			tokens += used
			settled++
			cur := settled
			mu.Unlock()
			if onProgress != nil {
				onProgress(cur, total, issue.ID)
			}
			return out, nil
		}
	}

	results := pool.Run(ctx, limit, tasks)
	out := make([]schema.ValidatedIssue, total)
	for i, r := range results {
		if r.Err != nil {
			// The pool only errors a task it could not run to completion
			// (cancelled context, panic). Settle it here so the batch
			// always returns one verdict per finding.
			out[i] = uncertainFallback(issues[i], "validation did not complete: "+r.Err.Error())
			settled++
			if onProgress != nil {
				onProgress(settled, total, issues[i].ID)
			}
			continue
		}
		out[i] = r.Value
	}
	return out, tokens
}

// ── Prompt assembly ──────────────────────────────────────────────────────────

func (v *Validator) systemPrompt(cat schema.Category) string {
	rb := rubric.ForCategory(cat)
	var b strings.Builder
	b.WriteString("You independently verify code review findings against the actual code. ")
	b.WriteString("You are skeptical: a finding stands only when the code as written really has the problem described.\n\n")
	b.WriteString(rb.SystemPromptAddendum)
	b.WriteString("\n\nInvestigate using the workspace summary and code excerpt provided, then respond with only a JSON object:\n")
	b.WriteString(`{
  "validation_status": "confirmed" | "rejected" | "uncertain",
  "grounding_evidence": {
    "checked_files": ["paths you actually consulted"],
    "checked_symbols": [{"name": "...", "type": "function|type|method", "locations": ["file:line"]}],
    "related_context": "other code that affects the verdict",
    "reasoning": "why the finding stands or falls"
  },
  "final_confidence": 0.0,
  "rejection_reason": "required when rejected",
  "revised_description": "sharper description when your investigation narrowed the problem",
  "revised_severity": "critical|error|warning|suggestion, only when the evidence changes it"
}`)
	return b.String()
}

func (v *Validator) userPrompt(issue schema.RawIssue) string {
	var b strings.Builder
	b.WriteString("FINDING:\n")
	enc, err := json.MarshalIndent(issue, "", "  ")
	if err != nil {
		fmt.Fprintf(&b, "%s (%s:%d-%d): %s", issue.Title, issue.File, issue.LineStart, issue.LineEnd, issue.Description)
	} else {
		b.Write(enc)
	}
	b.WriteString("\n")

	if v.inv == nil {
		b.WriteString("\nNo workspace is available; judge from the finding alone and lean uncertain.\n")
		return b.String()
	}

	snippet, serr := v.inv.Snippet(issue.File, issue.LineStart-snippetContext, issue.LineEnd+snippetContext)
	if serr != nil {
		fmt.Fprintf(&b, "\nCITED FILE: %s could not be read (%v). Weigh that in your verdict.\n", issue.File, serr)
	} else {
		fmt.Fprintf(&b, "\nCITED CODE (%s, lines around %d-%d):\n%s", issue.File, issue.LineStart, issue.LineEnd, snippet)
	}

	b.WriteString("\nWORKSPACE:\n")
	b.WriteString(v.inv.Summary())
	return b.String()
}

// uncertainFallback is the settled verdict for a finding whose validation
// could not complete. Confidence is halved.
func uncertainFallback(issue schema.RawIssue, note string) schema.ValidatedIssue {
	return schema.ValidatedIssue{
		RawIssue:         issue,
		ValidationStatus: schema.StatusUncertain,
		Evidence:         schema.GroundingEvidence{Reasoning: note},
		FinalConfidence:  schema.ClampConfidence(issue.Confidence * 0.5),
	}
}

func appendNote(reasoning, note string) string {
	if reasoning == "" {
		return note
	}
	return reasoning + " [" + note + "]"
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// excerpt trims a response for log output.
func excerpt(s string) string {
	return truncateText(strings.TrimSpace(s), 200)
}
