// Package checklist loads per-category review question sets from Markdown
// templates and reconciles reported checklist items against them.
package checklist

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dshills/triage/internal/schema"
)

//go:embed template.md
var defaultTemplate string

// Question is one checklist question an agent is expected to answer for its
// category.
type Question struct {
	ID       string
	Category schema.Category
	Text     string
}

// Template is a set of per-category review questions with stable ids.
type Template struct {
	categories []schema.Category // first-appearance order
	questions  map[schema.Category][]Question
	byID       map[string]Question
}

// Default returns the template bundled with the binary.
func Default() *Template {
	t, err := ParseReader(strings.NewReader(defaultTemplate))
	if err != nil {
		panic("checklist: bundled template: " + err.Error())
	}
	return t
}

// ParseFile reads the Markdown template at path.
func ParseFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checklist: open %s: %w", path, err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader reads a Markdown template from r. A heading naming a category
// ("## Security") opens that category's section; "- [ ]" items inside it
// become questions, with indented follow-up lines joined into the question
// text by single spaces. Sections under unrecognized headings and anything
// inside fenced code blocks are skipped. Ids are assigned per category in
// document order using the category's id prefix: sec-01, sec-02, ...
func ParseReader(r io.Reader) (*Template, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	t := &Template{
		questions: make(map[schema.Category][]Question),
		byID:      make(map[string]Question),
	}
	counters := make(map[schema.Category]int)

	var (
		cur       schema.Category
		inSection bool
		openFence string
		pending   []string // lines of the checkbox item being collected
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(pending, " "))
		pending = nil
		if text == "" {
			return
		}
		counters[cur]++
		q := Question{
			ID:       fmt.Sprintf("%s-%02d", cur.Prefix(), counters[cur]),
			Category: cur,
			Text:     text,
		}
		if _, seen := t.questions[cur]; !seen {
			t.categories = append(t.categories, cur)
		}
		t.questions[cur] = append(t.questions[cur], q)
		t.byID[q.ID] = q
	}

	for scanner.Scan() {
		line := scanner.Text()

		// Fence content is never a question, even when it contains "- [ ]".
		if openFence != "" {
			if isClosingFence(line, openFence) {
				openFence = ""
			}
			continue
		}
		if fp := fencePrefix(line); fp != "" {
			flush()
			openFence = fp
			continue
		}

		if isHeading(line) {
			flush()
			cur, inSection = headingCategory(line)
			continue
		}
		if !inSection {
			continue
		}

		if text, ok := checkboxText(line); ok {
			flush()
			pending = []string{text}
			continue
		}
		if len(pending) > 0 && isIndented(line) && strings.TrimSpace(line) != "" {
			pending = append(pending, strings.TrimSpace(line))
			continue
		}
		flush()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("checklist: scan: %w", err)
	}
	flush()
	return t, nil
}

// Questions returns the question set for a category in template order.
func (t *Template) Questions(cat schema.Category) []Question {
	return t.questions[cat]
}

// Categories returns the categories holding at least one question, in the
// order they first appear in the template.
func (t *Template) Categories() []schema.Category {
	return t.categories
}

// Lookup returns the question with the given id.
func (t *Template) Lookup(id string) (Question, bool) {
	q, ok := t.byID[id]
	return q, ok
}

// Len returns the total number of questions across all categories.
func (t *Template) Len() int {
	return len(t.byID)
}

// Reconcile merges reported checklist items with the template. Reported
// items keep their result, inheriting the template's question text and
// category when theirs are blank; items with ids the template does not know
// pass through untouched. Template questions nobody answered are appended
// with result "na". When cats is non-nil only those categories are
// backfilled, so a run that never selected an agent does not report its
// questions as unassessed. Output is ordered by id.
func (t *Template) Reconcile(items []schema.ChecklistItem, cats []schema.Category) []schema.ChecklistItem {
	backfill := make(map[schema.Category]bool, len(t.categories))
	if cats == nil {
		for _, c := range t.categories {
			backfill[c] = true
		}
	} else {
		for _, c := range cats {
			backfill[c] = true
		}
	}

	out := make([]schema.ChecklistItem, 0, len(items)+t.Len())
	answered := make(map[string]bool, len(items))
	for _, item := range items {
		if q, ok := t.byID[item.ID]; ok {
			answered[item.ID] = true
			if item.Question == "" {
				item.Question = q.Text
			}
			if item.Category == "" {
				item.Category = q.Category
			}
		}
		out = append(out, item)
	}
	for _, cat := range t.categories {
		if !backfill[cat] {
			continue
		}
		for _, q := range t.questions[cat] {
			if answered[q.ID] {
				continue
			}
			out = append(out, schema.ChecklistItem{
				ID:       q.ID,
				Category: q.Category,
				Question: q.Text,
				Result:   schema.ChecklistNA,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// checkboxText returns the question text when line is a top-level checkbox
// item ("- [ ] text" or "* [x] text"); checked boxes count the same as
// unchecked ones.
func checkboxText(line string) (string, bool) {
	if isIndented(line) {
		return "", false
	}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "- ") && !strings.HasPrefix(trimmed, "* ") {
		return "", false
	}
	rest := trimmed[2:]
	for _, box := range []string{"[ ]", "[x]", "[X]"} {
		if strings.HasPrefix(rest, box) {
			return strings.TrimSpace(rest[len(box):]), true
		}
	}
	return "", false
}

// headingCategory parses an ATX heading into a category. The whole heading
// text is tried first, then its first word, so "## Security" and
// "## Security review" both open the security section.
func headingCategory(line string) (schema.Category, bool) {
	text := strings.ToLower(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#")))
	if cat, err := schema.ParseCategory(text); err == nil {
		return cat, true
	}
	if i := strings.IndexByte(text, ' '); i > 0 {
		if cat, err := schema.ParseCategory(text[:i]); err == nil {
			return cat, true
		}
	}
	return "", false
}

// isHeading reports whether line is an ATX heading (# through ######).
// A space after the hashes is required; lines indented 4+ spaces are code.
func isHeading(line string) bool {
	leading := 0
	for leading < len(line) && line[leading] == ' ' {
		leading++
	}
	if leading >= 4 {
		return false
	}
	t := strings.TrimSpace(line)
	hashes := 0
	for hashes < len(t) && t[hashes] == '#' {
		hashes++
	}
	return hashes > 0 && hashes <= 6 && hashes < len(t) && t[hashes] == ' '
}

// isIndented reports whether line starts with a tab or two spaces.
func isIndented(line string) bool {
	return strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
}

// fencePrefix returns the opening fence marker ("```" or "~~~", possibly
// longer) when line starts a fenced code block, otherwise "". Up to three
// leading spaces are allowed; four or more means an indented code block.
func fencePrefix(line string) string {
	leading := 0
	for leading < len(line) && line[leading] == ' ' {
		leading++
	}
	if leading >= 4 {
		return ""
	}
	stripped := line[leading:]
	for _, marker := range []byte{'`', '~'} {
		if len(stripped) < 3 || stripped[0] != marker {
			continue
		}
		count := 0
		for count < len(stripped) && stripped[count] == marker {
			count++
		}
		if count >= 3 {
			return stripped[:count]
		}
	}
	return ""
}

// isClosingFence reports whether line closes openFence: same marker, at
// least as long, and nothing but spaces after it.
func isClosingFence(line, openFence string) bool {
	if openFence == "" {
		return false
	}
	fp := fencePrefix(line)
	if fp == "" || fp[0] != openFence[0] || len(fp) < len(openFence) {
		return false
	}
	leading := 0
	for leading < len(line) && line[leading] == ' ' {
		leading++
	}
	return strings.TrimSpace(line[leading+len(fp):]) == ""
}
