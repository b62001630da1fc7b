// Package collector is the coordination point every concurrently running
// review agent reports into: it assigns issue ids, runs the optional
// duplicate gate, bounds validation concurrency and owns all run-scoped
// state. A Collector is an explicit per-run value, never a singleton.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/triage/internal/dedup"
	"github.com/dshills/triage/internal/pool"
	"github.com/dshills/triage/internal/schema"
)

const defaultMaxConcurrent = 3

// AckStatus is the outcome vocabulary of a report call.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckError    AckStatus = "error"
)

// Ack is the synchronous acknowledgement returned to a reporting agent.
// Accepted means the issue entered the pipeline; validation settles later.
type Ack struct {
	Status  AckStatus `json:"status"`
	IssueID string    `json:"issue_id,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Validator settles one finding. A panicking implementation is recovered
// at the issue boundary and the finding settles as an uncertain fallback.
type Validator interface {
	Validate(ctx context.Context, issue schema.RawIssue) (schema.ValidatedIssue, int)
}

// DuplicateGate filters findings as they arrive. *dedup.Gate implements it.
type DuplicateGate interface {
	Check(ctx context.Context, issue schema.RawIssue) (*dedup.Rejection, int)
	Reset()
}

// Observer receives pipeline notifications. Callbacks run synchronously at
// defined points and must not block; a panicking observer is recovered and
// logged, never propagated.
type Observer interface {
	IssueReceived(issue schema.RawIssue)
	IssueValidated(issue schema.ValidatedIssue)
	DuplicateRejected(rejected schema.RawIssue, keptID, reason string)
}

// Options configure a Collector.
type Options struct {
	// Validator settles enqueued findings. Nil settles every finding as an
	// uncertain fallback.
	Validator Validator
	// Gate, when non-nil, screens findings for duplicates before they are
	// stored.
	Gate DuplicateGate
	// MaxConcurrent caps simultaneously active validations. Defaults to 3.
	MaxConcurrent int
	// SkipValidation settles every finding immediately as unvalidated, at
	// unchanged confidence.
	SkipValidation bool
	Observers      []Observer
	Logger         *zap.SugaredLogger
}

// Collector coordinates one run. Safe for concurrent use by any number of
// reporting agents.
type Collector struct {
	// ctx is the run context; a Collector is a per-run value, so it holds
	// the context that bounds its oracle calls.
	ctx       context.Context
	validator Validator
	gate      DuplicateGate
	skip      bool
	observers []Observer
	logger    *zap.SugaredLogger
	pool      *pool.Pool

	mu        sync.Mutex
	counters  map[string]int
	rawOrder  []string
	rawByID   map[string]schema.RawIssue
	validated map[string]schema.ValidatedIssue
	checklist []schema.ChecklistItem
	stats     schema.CollectorStats
}

// New returns a Collector for one run. Cancelling ctx makes queued and
// in-flight validations settle as uncertain fallbacks, so the join barrier
// still resolves.
func New(ctx context.Context, opts Options) *Collector {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Collector{
		ctx:       ctx,
		validator: opts.Validator,
		gate:      opts.Gate,
		skip:      opts.SkipValidation,
		observers: opts.Observers,
		logger:    opts.Logger,
		pool:      pool.New(ctx, opts.MaxConcurrent),
		counters:  make(map[string]int),
		rawByID:   make(map[string]schema.RawIssue),
		validated: make(map[string]schema.ValidatedIssue),
	}
}

// Report ingests one finding from an agent. It returns without waiting for
// validation; when a gate is configured its duplicate check, including any
// oracle call, happens inline. Gate-rejected findings consume an id but are
// never stored, so every stored finding settles to exactly one
// ValidatedIssue.
func (c *Collector) Report(report schema.IssueReport, agent schema.Agent) Ack {
	if err := validateReport(report, agent); err != nil {
		c.logger.Warnw("rejecting malformed issue report",
			"agent", agent.Name(), "file", report.File, "err", err)
		return Ack{Status: AckError, Message: err.Error()}
	}

	c.mu.Lock()
	prefix := agent.Prefix()
	c.counters[prefix]++
	issue := schema.RawIssue{
		ID:          fmt.Sprintf("%s-%03d", prefix, c.counters[prefix]),
		File:        report.File,
		LineStart:   report.LineStart,
		LineEnd:     report.LineEnd,
		Category:    report.Category,
		Severity:    report.Severity,
		Title:       report.Title,
		Description: report.Description,
		Suggestion:  report.Suggestion,
		CodeSnippet: report.CodeSnippet,
		Confidence:  report.Confidence,
		SourceAgent: agent,
	}
	c.stats.TotalReported++
	c.mu.Unlock()

	c.notify("issue_received", func(o Observer) { o.IssueReceived(issue) })

	if c.gate != nil {
		rej, tokens := c.gate.Check(c.ctx, issue)
		if tokens > 0 {
			c.mu.Lock()
			c.stats.TokensUsed += tokens
			c.mu.Unlock()
		}
		if rej != nil {
			c.logger.Infow("duplicate rejected at the gate",
				"issue", issue.ID, "kept", rej.KeptID)
			c.notify("duplicate_rejected", func(o Observer) {
				o.DuplicateRejected(issue, rej.KeptID, rej.Reason)
			})
			return Ack{
				Status:  AckError,
				IssueID: issue.ID,
				Message: fmt.Sprintf("duplicate of %s: %s", rej.KeptID, rej.Reason),
			}
		}
	}

	if c.skip {
		settled := schema.ValidatedIssue{
			RawIssue:         issue,
			ValidationStatus: schema.StatusUnvalidated,
			Evidence:         schema.GroundingEvidence{Reasoning: "validation skipped for this run"},
			FinalConfidence:  schema.ClampConfidence(issue.Confidence),
		}
		c.mu.Lock()
		c.store(issue)
		c.validated[issue.ID] = settled
		c.stats.Validated++
		c.mu.Unlock()
		c.notify("issue_validated", func(o Observer) { o.IssueValidated(settled) })
		return Ack{Status: AckAccepted, IssueID: issue.ID}
	}

	c.mu.Lock()
	c.store(issue)
	c.stats.ValidationPending++
	c.mu.Unlock()

	c.pool.Go(func(ctx context.Context) {
		c.runValidation(ctx, issue)
	})

	return Ack{Status: AckAccepted, IssueID: issue.ID}
}

// store records an accepted finding. Caller holds c.mu.
func (c *Collector) store(issue schema.RawIssue) {
	c.rawByID[issue.ID] = issue
	c.rawOrder = append(c.rawOrder, issue.ID)
}

// runValidation settles one finding exactly once. Panics and cancellation
// degrade to the uncertain fallback; bookkeeping updates unconditionally so
// the pending counter cannot drift.
func (c *Collector) runValidation(ctx context.Context, issue schema.RawIssue) {
	var (
		settled schema.ValidatedIssue
		tokens  int
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Errorw("validator panicked", "issue", issue.ID, "panic", r)
				settled = fallbackVerdict(issue, fmt.Sprintf("validator panicked: %v", r))
			}
		}()
		switch {
		case ctx.Err() != nil:
			settled = fallbackVerdict(issue, "validation cancelled: "+ctx.Err().Error())
		case c.validator == nil:
			settled = fallbackVerdict(issue, "no validator configured")
		default:
			settled, tokens = c.validator.Validate(ctx, issue)
		}
	}()

	c.mu.Lock()
	c.validated[issue.ID] = settled
	c.stats.Validated++
	c.stats.ValidationPending--
	c.stats.TokensUsed += tokens
	c.mu.Unlock()

	c.notify("issue_validated", func(o Observer) { o.IssueValidated(settled) })
}

// WaitForValidations blocks until every enqueued validation has settled,
// successfully or by fallback. Finite for any finite issue set.
func (c *Collector) WaitForValidations() {
	c.pool.Wait()
}

// ReportChecklist stores checklist answers from an agent. Malformed items
// are dropped with a warning; the rest of the batch is kept.
func (c *Collector) ReportChecklist(items []schema.ChecklistItem, agent schema.Agent) {
	kept := make([]schema.ChecklistItem, 0, len(items))
	for _, item := range items {
		if err := validateChecklistItem(item); err != nil {
			c.logger.Warnw("dropping malformed checklist item",
				"agent", agent.Name(), "id", item.ID, "err", err)
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == 0 {
		return
	}
	c.mu.Lock()
	c.checklist = append(c.checklist, kept...)
	c.mu.Unlock()
}

// ValidatedIssues returns the settled findings in id-assignment order.
func (c *Collector) ValidatedIssues() []schema.ValidatedIssue {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.ValidatedIssue, 0, len(c.validated))
	for _, id := range c.rawOrder {
		if vi, ok := c.validated[id]; ok {
			out = append(out, vi)
		}
	}
	return out
}

// Checklists returns a snapshot of all stored checklist items.
func (c *Collector) Checklists() []schema.ChecklistItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.ChecklistItem(nil), c.checklist...)
}

// Stats returns a snapshot of the run counters.
func (c *Collector) Stats() schema.CollectorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset waits for in-flight validations to settle, then clears all state,
// including the gate's, for reuse across runs.
func (c *Collector) Reset() {
	c.pool.Wait()
	if c.gate != nil {
		c.gate.Reset()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]int)
	c.rawOrder = nil
	c.rawByID = make(map[string]schema.RawIssue)
	c.validated = make(map[string]schema.ValidatedIssue)
	c.checklist = nil
	c.stats = schema.CollectorStats{}
}

// notify delivers one event to every observer, containing panics.
func (c *Collector) notify(event string, deliver func(Observer)) {
	for _, o := range c.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warnw("observer panicked", "event", event, "panic", r)
				}
			}()
			deliver(o)
		}()
	}
}

func fallbackVerdict(issue schema.RawIssue, note string) schema.ValidatedIssue {
	return schema.ValidatedIssue{
		RawIssue:         issue,
		ValidationStatus: schema.StatusUncertain,
		Evidence:         schema.GroundingEvidence{Reasoning: note},
		FinalConfidence:  schema.ClampConfidence(issue.Confidence * 0.5),
	}
}

func validateReport(report schema.IssueReport, agent schema.Agent) error {
	if agent.Name() == "" {
		return errors.New("source agent is required")
	}
	if report.File == "" {
		return errors.New("file is required")
	}
	if report.LineStart < 1 {
		return fmt.Errorf("line_start %d must be >= 1", report.LineStart)
	}
	if report.LineEnd < report.LineStart {
		return fmt.Errorf("line_end %d precedes line_start %d", report.LineEnd, report.LineStart)
	}
	if _, err := schema.ParseCategory(string(report.Category)); err != nil {
		return err
	}
	if _, err := schema.ParseSeverity(string(report.Severity)); err != nil {
		return err
	}
	if report.Title == "" {
		return errors.New("title is required")
	}
	if !(report.Confidence >= 0 && report.Confidence <= 1) {
		return fmt.Errorf("confidence %v outside [0,1]", report.Confidence)
	}
	return nil
}

func validateChecklistItem(item schema.ChecklistItem) error {
	if item.ID == "" {
		return errors.New("checklist item id is required")
	}
	if item.Question == "" {
		return errors.New("checklist question is required")
	}
	if _, err := schema.ParseCategory(string(item.Category)); err != nil {
		return err
	}
	if _, err := schema.ParseChecklistResult(string(item.Result)); err != nil {
		return err
	}
	return nil
}
