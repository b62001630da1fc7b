package dedup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/triage/internal/llm"
	"github.com/dshills/triage/internal/schema"
)

const (
	oracleMaxTokens     = 512
	oracleTemperature   = 0.0
	maxDescriptionChars = 600
)

const oracleSystemPrompt = `You compare two code review findings and decide whether they describe the same underlying problem.

Two findings are duplicates when fixing one would necessarily fix the other. Findings that touch the same lines but describe different problems (for example a SQL injection and a missing error check on the same query) are NOT duplicates.

Respond with only a JSON object, no other text:
{"is_duplicate": true or false, "duplicate_of_id": "id of EXISTING when duplicate, else empty", "reason": "one sentence"}`

// NewOracle returns an Oracle that refers each candidate pair to an LLM
// provider.
func NewOracle(provider llm.Provider) Oracle {
	return &llmOracle{provider: provider}
}

type llmOracle struct {
	provider llm.Provider
}

func (o *llmOracle) IsDuplicate(ctx context.Context, candidate, existing schema.RawIssue) (Decision, error) {
	cand, err := json.Marshal(promptIssue(candidate))
	if err != nil {
		return Decision{}, fmt.Errorf("dedup: marshal candidate: %w", err)
	}
	kept, err := json.Marshal(promptIssue(existing))
	if err != nil {
		return Decision{}, fmt.Errorf("dedup: marshal existing: %w", err)
	}
	user := fmt.Sprintf("CANDIDATE (newly reported):\n%s\n\nEXISTING (already accepted):\n%s", cand, kept)

	comp, err := o.provider.Complete(ctx, oracleSystemPrompt, user, oracleMaxTokens, oracleTemperature)
	if err != nil {
		return Decision{}, fmt.Errorf("dedup: duplicate oracle: %w", err)
	}
	var dec Decision
	if err := llm.DecodeObject(comp.Text, &dec); err != nil {
		return Decision{TokensUsed: comp.TokensUsed}, fmt.Errorf("dedup: duplicate oracle: %w", err)
	}
	dec.TokensUsed = comp.TokensUsed
	return dec, nil
}

// issuePayload is the trimmed projection of an issue sent to duplicate
// oracles.
type issuePayload struct {
	ID          string          `json:"id"`
	File        string          `json:"file"`
	LineStart   int             `json:"line_start"`
	LineEnd     int             `json:"line_end"`
	Category    schema.Category `json:"category"`
	Severity    schema.Severity `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
}

func promptIssue(is schema.RawIssue) issuePayload {
	return issuePayload{
		ID:          is.ID,
		File:        is.File,
		LineStart:   is.LineStart,
		LineEnd:     is.LineEnd,
		Category:    is.Category,
		Severity:    is.Severity,
		Title:       is.Title,
		Description: truncate(is.Description, maxDescriptionChars),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
