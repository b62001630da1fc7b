package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/triage/internal/aggregate"
	"github.com/dshills/triage/internal/checklist"
	"github.com/dshills/triage/internal/collector"
	"github.com/dshills/triage/internal/config"
	"github.com/dshills/triage/internal/dedup"
	"github.com/dshills/triage/internal/llm"
	"github.com/dshills/triage/internal/logging"
	"github.com/dshills/triage/internal/render"
	"github.com/dshills/triage/internal/schema"
	"github.com/dshills/triage/internal/validate"
	"github.com/dshills/triage/internal/workspace"
)

// Process exit codes. Oracle failures during validation degrade findings
// instead of aborting, so exitCodeAPIError only covers provider setup.
const (
	exitCodeFailOn    = 2
	exitCodeBadInput  = 3
	exitCodeAPIError  = 4
	exitCodeBadOutput = 5
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// runFlags is the fully resolved input of the run command.
type runFlags struct {
	findingsFile    string
	workspaceRoot   string
	configFile      string
	checklistFile   string
	out             string
	format          string
	provider        string
	model           string
	maxTokens       int
	temperature     float64
	concurrency     int
	skipValidation  bool
	dedupMode       string
	sortOrder       string
	minConfidence   float64
	includeRejected bool
	failOn          string
	ignore          []string
	debug           bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the triage pipeline over a findings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configFile)
			if err != nil {
				return &exitError{code: exitCodeBadInput, err: err}
			}
			applyConfig(&f, cfg, cmd.Flags().Changed)
			return runTriage(cmd.Context(), f)
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.StringVarP(&f.findingsFile, "findings", "f", "", "findings JSON file produced by the review agents")
	flags.StringVarP(&f.workspaceRoot, "workspace", "w", "", "workspace root the findings refer to")
	flags.StringVar(&f.configFile, "config", "", "config file (default "+config.DefaultPath+")")
	flags.StringVar(&f.checklistFile, "checklist", "", "checklist template overriding the bundled one")
	flags.StringVarP(&f.out, "out", "o", "", "write the report here instead of stdout")
	flags.StringVar(&f.format, "format", defaults.Format, "output format: json or markdown")
	flags.StringVar(&f.provider, "provider", defaults.Provider, "oracle provider: anthropic, openai, or google")
	flags.StringVar(&f.model, "model", defaults.Model, "oracle model")
	flags.IntVar(&f.maxTokens, "max-tokens", defaults.MaxTokens, "token cap per oracle call")
	flags.Float64Var(&f.temperature, "temperature", defaults.Temperature, "oracle sampling temperature")
	flags.IntVar(&f.concurrency, "concurrency", defaults.MaxConcurrent, "validation concurrency cap")
	flags.BoolVar(&f.skipValidation, "skip-validation", false, "skip the grounding pass")
	flags.StringVar(&f.dedupMode, "dedup", defaults.Dedup, "duplicate handling: realtime, batch, or off")
	flags.StringVar(&f.sortOrder, "sort", defaults.Sort, "report order: severity, confidence, file, or category")
	flags.Float64Var(&f.minConfidence, "min-confidence", 0, "drop findings below this confidence")
	flags.BoolVar(&f.includeRejected, "include-rejected", false, "keep rejected findings in the report")
	flags.StringVar(&f.failOn, "fail-on", defaults.FailOn, "exit non-zero when findings at or above this severity remain")
	flags.StringSliceVar(&f.ignore, "ignore", nil, "extra directory names to skip when scanning the workspace")
	flags.BoolVar(&f.debug, "debug", false, "verbose logging")

	return cmd
}

// applyConfig fills every setting the user did not pass as a flag from the
// effective config, so precedence is defaults < file < env < flags.
func applyConfig(f *runFlags, cfg config.Config, changed func(string) bool) {
	if !changed("format") {
		f.format = cfg.Format
	}
	if !changed("provider") {
		f.provider = cfg.Provider
	}
	if !changed("model") {
		f.model = cfg.Model
	}
	if !changed("max-tokens") {
		f.maxTokens = cfg.MaxTokens
	}
	if !changed("temperature") {
		f.temperature = cfg.Temperature
	}
	if !changed("concurrency") {
		f.concurrency = cfg.MaxConcurrent
	}
	if !changed("skip-validation") {
		f.skipValidation = cfg.SkipValidation
	}
	if !changed("dedup") {
		f.dedupMode = cfg.Dedup
	}
	if !changed("sort") {
		f.sortOrder = cfg.Sort
	}
	if !changed("min-confidence") {
		f.minConfidence = cfg.MinConfidence
	}
	if !changed("include-rejected") {
		f.includeRejected = cfg.IncludeRejected
	}
	if !changed("fail-on") {
		f.failOn = cfg.FailOn
	}
	if !changed("checklist") && cfg.ChecklistFile != "" {
		f.checklistFile = cfg.ChecklistFile
	}
	if !changed("ignore") && len(cfg.Ignore) > 0 {
		f.ignore = cfg.Ignore
	}
	if !changed("debug") {
		f.debug = cfg.Debug
	}
}

// findingsFile is the JSON document the review agents hand to the pipeline:
// one entry per agent with its reported issues and checklist answers.
type findingsFile struct {
	Agents []agentFindings `json:"agents"`
}

type agentFindings struct {
	Agent     string                 `json:"agent"`
	Issues    []schema.IssueReport   `json:"issues"`
	Checklist []schema.ChecklistItem `json:"checklist,omitempty"`
}

func loadFindings(path string) (*findingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read findings: %w", err)
	}
	var ff findingsFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse findings %s: %w", path, err)
	}
	if len(ff.Agents) == 0 {
		return nil, fmt.Errorf("findings %s: no agent entries", path)
	}
	return &ff, nil
}

// progressObserver streams pipeline events to the run log.
type progressObserver struct {
	logger *zap.SugaredLogger
}

func (p *progressObserver) IssueReceived(issue schema.RawIssue) {
	p.logger.Debugw("issue received", "id", issue.ID, "file", issue.File, "title", issue.Title)
}

func (p *progressObserver) IssueValidated(issue schema.ValidatedIssue) {
	p.logger.Infow("issue settled", "id", issue.ID, "status", issue.ValidationStatus, "confidence", issue.FinalConfidence)
}

func (p *progressObserver) DuplicateRejected(rejected schema.RawIssue, keptID, reason string) {
	p.logger.Infow("duplicate rejected", "id", rejected.ID, "kept", keptID, "reason", reason)
}

func runTriage(ctx context.Context, f runFlags) error {
	logger, err := logging.New(f.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if f.findingsFile == "" {
		return &exitError{code: exitCodeBadInput, err: fmt.Errorf("a findings file is required (--findings)")}
	}
	switch f.dedupMode {
	case config.DedupRealtime, config.DedupBatch, config.DedupOff:
	default:
		return &exitError{code: exitCodeBadInput, err: fmt.Errorf("unknown dedup mode %q", f.dedupMode)}
	}
	switch f.format {
	case config.FormatJSON, config.FormatMarkdown:
	default:
		return &exitError{code: exitCodeBadInput, err: fmt.Errorf("unknown format %q", f.format)}
	}
	sortOrder, err := aggregate.ParseSortOrder(f.sortOrder)
	if err != nil {
		return &exitError{code: exitCodeBadInput, err: err}
	}
	var failOn schema.Severity
	if f.failOn != "" && f.failOn != config.FailOnNone {
		if failOn, err = schema.ParseSeverity(f.failOn); err != nil {
			return &exitError{code: exitCodeBadInput, err: err}
		}
	}
	tmpl := checklist.Default()
	if f.checklistFile != "" {
		if tmpl, err = checklist.ParseFile(f.checklistFile); err != nil {
			return &exitError{code: exitCodeBadInput, err: err}
		}
	}
	findings, err := loadFindings(f.findingsFile)
	if err != nil {
		return &exitError{code: exitCodeBadInput, err: err}
	}

	var inv *workspace.Inventory
	if f.workspaceRoot != "" {
		scanned, err := workspace.Scan(f.workspaceRoot, f.ignore)
		if err != nil {
			return &exitError{code: exitCodeBadInput, err: fmt.Errorf("scan workspace: %w", err)}
		}
		inv = &scanned
		logger.Infof("scanned workspace %s: %d files, %d symbols", f.workspaceRoot, len(inv.Files), len(inv.Symbols))
	}

	// The oracle is needed unless validation is skipped and dedup is off.
	var provider llm.Provider
	if !f.skipValidation || f.dedupMode != config.DedupOff {
		if provider, err = llm.NewProvider(f.provider, f.model); err != nil {
			return &exitError{code: exitCodeAPIError, err: err}
		}
	}

	var gate collector.DuplicateGate
	if f.dedupMode == config.DedupRealtime {
		gate = dedup.NewGate(dedup.NewOracle(provider), logger)
	}
	var validator collector.Validator
	if !f.skipValidation {
		validator = validate.New(validate.Options{
			Provider:    provider,
			Inventory:   inv,
			MaxTokens:   f.maxTokens,
			Temperature: f.temperature,
			Logger:      logger,
		})
	}

	coll := collector.New(ctx, collector.Options{
		Validator:      validator,
		Gate:           gate,
		MaxConcurrent:  f.concurrency,
		SkipValidation: f.skipValidation,
		Observers:      []collector.Observer{&progressObserver{logger: logger}},
		Logger:         logger,
	})

	agentNames := make([]string, 0, len(findings.Agents))
	for _, af := range findings.Agents {
		agent, err := schema.ParseAgent(af.Agent)
		if err != nil {
			logger.Warnw("skipping agent entry", "agent", af.Agent, "error", err)
			continue
		}
		agentNames = append(agentNames, agent.Name())
		for _, rep := range af.Issues {
			if ack := coll.Report(rep, agent); ack.Status == collector.AckError {
				logger.Warnw("finding not accepted", "agent", agent.Name(), "title", rep.Title, "reason", ack.Message)
			}
		}
		coll.ReportChecklist(af.Checklist, agent)
	}
	if len(agentNames) == 0 {
		return &exitError{code: exitCodeBadInput, err: fmt.Errorf("findings %s: no usable agent entries", f.findingsFile)}
	}

	logger.Infof("reported %d findings from %d agents, waiting for validation", coll.Stats().TotalReported, len(agentNames))
	coll.WaitForValidations()

	issues := coll.ValidatedIssues()
	stats := coll.Stats()

	if f.dedupMode == config.DedupBatch {
		deduped, removals, tokens := dedup.DeduplicateBatch(ctx, provider, issues, logger)
		issues = deduped
		stats.TokensUsed += tokens
		logger.Infof("batch dedup marked %d of %d findings as duplicates", len(removals), len(issues))
	}

	result := aggregate.Aggregate(issues, coll.Checklists(), aggregate.Options{
		IncludeRejected: f.includeRejected,
		MinConfidence:   f.minConfidence,
		Sort:            sortOrder,
	})

	report := &schema.Report{
		Tool:    "triage",
		Version: version,
		RunID:   uuid.New().String(),
		Input: schema.Input{
			FindingsFile:  f.findingsFile,
			WorkspaceRoot: f.workspaceRoot,
			Agents:        agentNames,
			SortOrder:     string(sortOrder),
			SkipValidated: f.skipValidation,
		},
		Summary:   result.Summary,
		Issues:    result.Issues,
		Checklist: tmpl.Reconcile(result.Checklist, runCategories(findings)),
		Stats:     stats,
		Meta:      schema.Meta{Model: f.model, Temperature: f.temperature},
	}

	if err := writeReport(report, f.format, f.out); err != nil {
		return err
	}
	logger.Infof("run %s: %d findings in report, %d tokens used", report.RunID, report.Summary.TotalIssues, stats.TokensUsed)

	if failOn != "" {
		if worst := worstSeverity(result.Issues); worst != "" &&
			schema.SeverityRank(worst) >= schema.SeverityRank(failOn) {
			return &exitError{code: exitCodeFailOn,
				err: fmt.Errorf("findings at or above %s severity remain (worst: %s)", failOn, worst)}
		}
	}
	return nil
}

func writeReport(report *schema.Report, format, out string) error {
	var data []byte
	switch format {
	case config.FormatMarkdown:
		data = []byte(render.RenderMarkdown(report))
	case config.FormatJSON:
		b, err := render.RenderJSON(report)
		if err != nil {
			return &exitError{code: exitCodeBadOutput, err: err}
		}
		data = append(b, '\n')
	default:
		return &exitError{code: exitCodeBadInput, err: fmt.Errorf("unknown format %q", format)}
	}
	if out == "" || out == "-" {
		if _, err := os.Stdout.Write(data); err != nil {
			return &exitError{code: exitCodeBadOutput, err: err}
		}
		return nil
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return &exitError{code: exitCodeBadOutput, err: fmt.Errorf("write report: %w", err)}
	}
	return nil
}

// runCategories lists the built-in categories covered by the agents present
// in the findings file. Custom agents have no checklist section, so their
// questions are never backfilled.
func runCategories(ff *findingsFile) []schema.Category {
	cats := make([]schema.Category, 0, len(ff.Agents))
	seen := make(map[schema.Category]bool)
	for _, af := range ff.Agents {
		cat, err := schema.ParseCategory(af.Agent)
		if err != nil || seen[cat] {
			continue
		}
		seen[cat] = true
		cats = append(cats, cat)
	}
	return cats
}

// worstSeverity returns the highest effective severity among surviving
// findings, ignoring rejected ones.
func worstSeverity(issues []schema.ValidatedIssue) schema.Severity {
	var worst schema.Severity
	for _, issue := range issues {
		if issue.ValidationStatus == schema.StatusRejected {
			continue
		}
		if sev := aggregate.EffectiveSeverity(issue); schema.SeverityRank(sev) > schema.SeverityRank(worst) {
			worst = sev
		}
	}
	return worst
}
