package schema

// Report is the top-level output document produced at the end of a run.
type Report struct {
	Tool      string           `json:"tool"`
	Version   string           `json:"version"`
	RunID     string           `json:"run_id"`
	Input     Input            `json:"input"`
	Summary   Summary          `json:"summary"`
	Issues    []ValidatedIssue `json:"issues"`
	Checklist []ChecklistItem  `json:"checklist"`
	Stats     CollectorStats   `json:"stats"`
	Meta      Meta             `json:"meta"`
}

// Input records the parameters used for this run.
type Input struct {
	FindingsFile  string   `json:"findings_file,omitempty"`
	WorkspaceRoot string   `json:"workspace_root,omitempty"`
	Agents        []string `json:"agents,omitempty"`
	SortOrder     string   `json:"sort_order"`
	SkipValidated bool     `json:"skip_validation,omitempty"`
}

// Summary holds issue counts broken down by severity and validation status.
type Summary struct {
	TotalIssues     int `json:"total_issues"`
	CriticalCount   int `json:"critical_count"`
	ErrorCount      int `json:"error_count"`
	WarningCount    int `json:"warning_count"`
	SuggestionCount int `json:"suggestion_count"`
	ConfirmedCount  int `json:"confirmed_count"`
	RejectedCount   int `json:"rejected_count"`
	UncertainCount  int `json:"uncertain_count"`
	ChecklistFails  int `json:"checklist_fails"`
}

// Meta records information about the oracle configuration.
type Meta struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}
