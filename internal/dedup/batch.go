package dedup

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/triage/internal/llm"
	"github.com/dshills/triage/internal/schema"
)

const (
	batchMaxTokens   = 4096
	batchTemperature = 0.0
)

const batchSystemPrompt = `You deduplicate a list of code review findings. Group together findings that describe the same underlying problem, even when they sit in different files. Findings that merely touch the same code but describe different problems are not duplicates.

Respond with only a JSON object, no other text:
{"groups": [{"kept_id": "id of the best-stated finding", "duplicate_ids": ["other ids in the group"], "reason": "one sentence"}]}

Only report groups that contain at least one duplicate. If nothing is duplicated, respond {"groups": []}.`

// Group is one duplicate cluster in a batch oracle response.
type Group struct {
	KeptID       string   `json:"kept_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
	Reason       string   `json:"reason"`
}

// Removal records one issue rejected by the batch pass, for notification.
type Removal struct {
	RejectedID string
	KeptID     string
	Reason     string
}

type batchResponse struct {
	Groups []Group `json:"groups"`
}

// DeduplicateBatch runs a single oracle call over the settled issue list and
// marks semantic duplicates rejected, each with a reason naming the kept
// issue. Issues already rejected are not sent to the oracle and are never
// re-marked. On oracle failure the list is returned unchanged. The input
// slice is not modified; each issue appears in at most one duplicate group
// and ids the oracle invents are dropped with a warning.
func DeduplicateBatch(ctx context.Context, provider llm.Provider, issues []schema.ValidatedIssue, logger *zap.SugaredLogger) ([]schema.ValidatedIssue, []Removal, int) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	live := make([]issuePayload, 0, len(issues))
	byID := make(map[string]int, len(issues))
	for i, is := range issues {
		if is.ValidationStatus == schema.StatusRejected {
			continue
		}
		p := promptIssue(is.RawIssue)
		if is.RevisedDescription != "" {
			p.Description = truncate(is.RevisedDescription, maxDescriptionChars)
		}
		live = append(live, p)
		byID[is.ID] = i
	}
	if len(live) < 2 {
		return issues, nil, 0
	}

	payload, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		logger.Warnw("batch dedup skipped", "err", err)
		return issues, nil, 0
	}

	comp, err := provider.Complete(ctx, batchSystemPrompt, "FINDINGS:\n"+string(payload), batchMaxTokens, batchTemperature)
	if err != nil {
		logger.Warnw("batch dedup oracle failed, keeping all issues", "err", err)
		return issues, nil, 0
	}
	var resp batchResponse
	if err := llm.DecodeObject(comp.Text, &resp); err != nil {
		logger.Warnw("batch dedup response unusable, keeping all issues", "err", err)
		return issues, nil, comp.TokensUsed
	}

	out := append([]schema.ValidatedIssue(nil), issues...)
	grouped := make(map[string]bool)
	var removals []Removal
	for _, g := range resp.Groups {
		if _, ok := byID[g.KeptID]; !ok {
			logger.Warnw("batch dedup named unknown kept id, skipping group", "kept_id", g.KeptID)
			continue
		}
		if grouped[g.KeptID] {
			logger.Warnw("batch dedup reused an already grouped id as kept, skipping group", "kept_id", g.KeptID)
			continue
		}
		grouped[g.KeptID] = true
		for _, dupID := range g.DuplicateIDs {
			if dupID == g.KeptID {
				logger.Warnw("batch dedup listed kept id as its own duplicate", "id", dupID)
				continue
			}
			di, ok := byID[dupID]
			if !ok {
				logger.Warnw("batch dedup named unknown duplicate id", "id", dupID)
				continue
			}
			if grouped[dupID] {
				logger.Warnw("batch dedup listed id in more than one group", "id", dupID)
				continue
			}
			grouped[dupID] = true
			out[di].ValidationStatus = schema.StatusRejected
			out[di].RejectionReason = fmt.Sprintf("duplicate of %s: %s", g.KeptID, g.Reason)
			removals = append(removals, Removal{RejectedID: dupID, KeptID: g.KeptID, Reason: g.Reason})
		}
	}
	return out, removals, comp.TokensUsed
}
