// Package rubric defines per-category validation rubrics that modulate the
// grounding prompt sent to the oracle. Each rubric tells the validator what
// commonly makes a finding in its category a false positive.
package rubric

import "github.com/dshills/triage/internal/schema"

// Rubric describes the validation strategy for one finding category.
type Rubric struct {
	Category             schema.Category
	Description          string
	SystemPromptAddendum string
}

// byCategory is the registry of built-in rubrics.
var byCategory = map[schema.Category]Rubric{
	schema.CategorySecurity: {
		Category:    schema.CategorySecurity,
		Description: "Security findings: verify exploitability, not just pattern presence.",
		SystemPromptAddendum: "This is a SECURITY finding. Reject it if the flagged input is already " +
			"sanitized or validated upstream of the cited lines, if the code path is unreachable " +
			"from untrusted input, or if the flagged secret is clearly a test fixture or example " +
			"value. Confirm only when a concrete attack path exists through the code as written.",
	},
	schema.CategoryLogic: {
		Category:    schema.CategoryLogic,
		Description: "Logic findings: verify the failure case can actually occur.",
		SystemPromptAddendum: "This is a LOGIC finding. Reject it if the alleged failure input is " +
			"impossible given every caller of the cited code, if the behavior is explicitly " +
			"intended per nearby tests or comments, or if an earlier check already excludes the " +
			"case. Confirm only when a reachable input produces the wrong result.",
	},
	schema.CategoryPerformance: {
		Category:    schema.CategoryPerformance,
		Description: "Performance findings: verify the cost lands on a path that matters.",
		SystemPromptAddendum: "This is a PERFORMANCE finding. Reject it if the flagged operation is " +
			"O(1) or bounded by a small constant, if it runs on a cold path such as startup or a " +
			"one-shot CLI invocation, or if the suggested optimization would not change asymptotic " +
			"behavior. Confirm only when the cost is on a hot path with unbounded input.",
	},
	schema.CategoryStyle: {
		Category:    schema.CategoryStyle,
		Description: "Style findings: judge against the project's own conventions.",
		SystemPromptAddendum: "This is a STYLE finding. Reject it if the flagged code matches the " +
			"dominant convention of the surrounding files, even when that convention is unusual in " +
			"general. Confirm only when the code deviates from what this project itself does " +
			"everywhere else.",
	},
	schema.CategoryMaintainability: {
		Category:    schema.CategoryMaintainability,
		Description: "Maintainability findings: verify the proposed abstraction pays for itself.",
		SystemPromptAddendum: "This is a MAINTAINABILITY finding. Reject it if the flagged " +
			"duplication has only two instances, if extracting it would couple otherwise unrelated " +
			"code, or if the complexity is inherent to the problem rather than the implementation. " +
			"Confirm only when the change would make future edits clearly safer or smaller.",
	},
}

// generic is used for categories outside the built-in set.
var generic = Rubric{
	Description: "Generic rubric; verifies the finding against the code as written.",
	SystemPromptAddendum: "Verify the finding against the actual code. Reject it if the described " +
		"problem cannot occur as the code is written, or if the cited lines do not contain the " +
		"described construct.",
}

// ForCategory returns the rubric for a category, falling back to a generic
// rubric for unknown values so validation never stalls on input shape.
func ForCategory(c schema.Category) Rubric {
	if r, ok := byCategory[c]; ok {
		return r
	}
	r := generic
	r.Category = c
	return r
}
