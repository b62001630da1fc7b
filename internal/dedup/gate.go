// Package dedup filters duplicate findings: a realtime gate consulted as
// issues arrive, and a batch pass over the settled list.
package dedup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/triage/internal/schema"
)

// Decision is a duplicate oracle verdict for one candidate pair.
type Decision struct {
	IsDuplicate   bool   `json:"is_duplicate"`
	DuplicateOfID string `json:"duplicate_of_id"`
	Reason        string `json:"reason"`

	// TokensUsed is provider token usage for the call; not part of the
	// oracle response body.
	TokensUsed int `json:"-"`
}

// Oracle decides whether a candidate finding duplicates an already accepted
// one.
type Oracle interface {
	IsDuplicate(ctx context.Context, candidate, existing schema.RawIssue) (Decision, error)
}

// Rejection records why the gate refused a candidate.
type Rejection struct {
	KeptID string
	Reason string
}

// Gate is the realtime duplicate filter consulted before a reported issue
// is stored. It indexes every accepted issue by file; a candidate whose line
// range overlaps an accepted issue in the same file is referred to the
// oracle. Callers serialize on the gate's lock, so the accepted set cannot
// change between the overlap scan and the record step.
type Gate struct {
	oracle Oracle
	logger *zap.SugaredLogger

	mu     sync.Mutex
	byFile map[string][]schema.RawIssue
}

// NewGate returns a gate backed by oracle. A nil logger disables gate
// logging.
func NewGate(oracle Oracle, logger *zap.SugaredLogger) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{
		oracle: oracle,
		logger: logger,
		byFile: make(map[string][]schema.RawIssue),
	}
}

// Check decides whether issue duplicates a previously accepted issue. A nil
// rejection means the issue was accepted and recorded for future checks.
// Oracle failures fail open: the candidate pair is skipped and the issue can
// still be accepted. The token count covers every oracle call made,
// whatever the outcome.
func (g *Gate) Check(ctx context.Context, issue schema.RawIssue) (*Rejection, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tokens := 0
	for _, kept := range g.byFile[issue.File] {
		if !linesOverlap(issue, kept) {
			continue
		}
		dec, err := g.oracle.IsDuplicate(ctx, issue, kept)
		tokens += dec.TokensUsed
		if err != nil {
			g.logger.Warnw("duplicate oracle failed, not rejecting",
				"issue", issue.ID, "against", kept.ID, "err", err)
			continue
		}
		if dec.IsDuplicate {
			// KeptID comes from the pair we handed the oracle, not from
			// the response, which may name an id we never issued.
			return &Rejection{KeptID: kept.ID, Reason: dec.Reason}, tokens
		}
	}
	g.byFile[issue.File] = append(g.byFile[issue.File], issue)
	return nil, tokens
}

// Reset discards all recorded issues.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byFile = make(map[string][]schema.RawIssue)
}

// linesOverlap reports whether two issues' line ranges intersect. Ranges
// are inclusive on both ends, so 10-15 and 15-20 overlap.
func linesOverlap(a, b schema.RawIssue) bool {
	return a.LineStart <= b.LineEnd && b.LineStart <= a.LineEnd
}
