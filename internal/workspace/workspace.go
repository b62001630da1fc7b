// Package workspace builds a lightweight inventory of the code tree under
// review. The inventory is handed to the validation oracle as grounding
// context and consulted to verify the files and symbols the oracle claims
// to have checked.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// File describes a single source file in the inventory.
type File struct {
	Path     string // relative to the workspace root
	Language string // classified by file extension
	Lines    int    // 0 when the file was too large to read
}

// Symbol is a named declaration with its location.
type Symbol struct {
	Name string
	Kind string // func, method, type, class, struct, impl
	Path string // relative file path
	Line int    // 1-based
}

// TestFunc is a named test function extracted from a test file.
type TestFunc struct {
	Path string
	Name string
}

// Manifest holds the content of a dependency manifest file.
type Manifest struct {
	Path    string
	Content string
}

// Inventory is the complete inventory of a workspace.
type Inventory struct {
	Root        string
	Files       []File
	Symbols     []Symbol
	Tests       []TestFunc
	Manifests   []Manifest
	ConfigFiles []string // relative paths only; content not included
}

// maxSummaryBytes is the maximum byte length of Summary() output before the
// symbol list is pruned.
const maxSummaryBytes = 40_000

// maxFileSize is the maximum file size to read for symbol extraction.
const maxFileSize = 1 << 20 // 1 MB

// defaultIgnore is the default set of directory names to skip.
// Matching is against directory base names only, not full paths.
var defaultIgnore = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"__pycache__":  true,
	".build":       true,
	"dist":         true,
	"build":        true,
}

// isTestFile returns true for files that follow test-file naming conventions.
func isTestFile(name string) bool {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	switch {
	case strings.HasSuffix(stem, "_test") && ext == ".go":
		return true
	case strings.HasSuffix(base, ".test.ts"),
		strings.HasSuffix(base, ".spec.ts"),
		strings.HasSuffix(base, ".test.tsx"),
		strings.HasSuffix(base, ".spec.tsx"),
		strings.HasSuffix(base, ".test.js"),
		strings.HasSuffix(base, ".spec.js"):
		return true
	case strings.HasPrefix(base, "test_") && ext == ".py":
		return true
	case strings.HasSuffix(stem, "_test") && ext == ".py":
		return true
	}
	return false
}

// isManifest returns true for known dependency manifest file names.
func isManifest(name string) bool {
	switch filepath.Base(name) {
	case "go.mod", "package.json", "requirements.txt",
		"Cargo.toml", "pyproject.toml", "pom.xml":
		return true
	}
	return false
}

// isConfig returns true for configuration files (content not included).
// Known dependency manifests are explicitly excluded so they are not
// silently reclassified as config files regardless of call order.
func isConfig(name string) bool {
	if isManifest(name) {
		return false
	}
	ext := filepath.Ext(name)
	base := filepath.Base(name)
	switch {
	case ext == ".yaml" || ext == ".yml" || ext == ".toml" || ext == ".json":
		return true
	case strings.HasPrefix(base, ".env"):
		return true
	}
	return false
}

// classifyLanguage returns a language label for a file extension.
func classifyLanguage(ext string) string {
	switch ext {
	case ".go":
		return "Go"
	case ".ts", ".tsx":
		return "TypeScript"
	case ".js", ".jsx":
		return "JavaScript"
	case ".py":
		return "Python"
	case ".rs":
		return "Rust"
	case ".java":
		return "Java"
	case ".c", ".h":
		return "C"
	case ".cpp", ".hpp", ".cc":
		return "C++"
	case ".rb":
		return "Ruby"
	case ".sh", ".bash":
		return "Shell"
	case ".md":
		return "Markdown"
	default:
		return "Other"
	}
}

// Scan walks the directory at root and builds an inventory.
// ignorePatterns supplements the default ignore list; entries are matched
// against directory base names (not full paths).
func Scan(root string, ignorePatterns []string) (Inventory, error) {
	extraIgnore := make(map[string]bool, len(ignorePatterns))
	for _, p := range ignorePatterns {
		extraIgnore[p] = true
	}

	inv := Inventory{Root: root}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() {
			if (defaultIgnore[d.Name()] || extraIgnore[d.Name()]) && path != root {
				return fs.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(d.Name())

		// Dependency manifests: read and store full content.
		if isManifest(d.Name()) {
			data, readErr := os.ReadFile(path)
			if readErr == nil {
				inv.Manifests = append(inv.Manifests, Manifest{Path: rel, Content: string(data)})
			}
			return nil
		}

		// Config files: store path only.
		if isConfig(d.Name()) {
			inv.ConfigFiles = append(inv.ConfigFiles, rel)
			return nil
		}

		entry := File{Path: rel, Language: classifyLanguage(ext)}

		// Skip files that are too large to read for symbol extraction.
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxFileSize {
			inv.Files = append(inv.Files, entry)
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			// Unreadable files keep their entry but contribute no symbols.
			inv.Files = append(inv.Files, entry)
			return nil
		}
		lines := splitLines(string(data))
		entry.Lines = len(lines)
		inv.Files = append(inv.Files, entry)

		if isTestFile(d.Name()) {
			if re, ok := testPatterns[ext]; ok {
				for _, name := range extractTests(re, lines) {
					inv.Tests = append(inv.Tests, TestFunc{Path: rel, Name: name})
				}
			}
			return nil
		}
		if pats, ok := symbolPatterns[ext]; ok {
			inv.Symbols = append(inv.Symbols, extractSymbols(pats, rel, lines)...)
		}
		return nil
	})
	if err != nil {
		return Inventory{}, fmt.Errorf("workspace: walk %s: %w", root, err)
	}

	return inv, nil
}

// splitLines splits content into lines without counting a trailing newline
// as an extra empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// HasFile reports whether a relative path appears anywhere in the inventory:
// source files, dependency manifests, or config files.
func (inv Inventory) HasFile(path string) bool {
	for _, f := range inv.Files {
		if f.Path == path {
			return true
		}
	}
	for _, m := range inv.Manifests {
		if m.Path == path {
			return true
		}
	}
	for _, c := range inv.ConfigFiles {
		if c == path {
			return true
		}
	}
	return false
}

// FindSymbol returns every symbol in the inventory with the given name.
func (inv Inventory) FindSymbol(name string) []Symbol {
	var out []Symbol
	for _, s := range inv.Symbols {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Snippet reads lines [start, end] of a workspace file (1-based, inclusive,
// clamped to the file's bounds) and returns them with line-number prefixes.
func (inv Inventory) Snippet(path string, start, end int) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: path %q escapes root", path)
	}
	data, err := os.ReadFile(filepath.Join(inv.Root, clean))
	if err != nil {
		return "", fmt.Errorf("workspace: read %s: %w", path, err)
	}
	lines := splitLines(string(data))
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("workspace: %s has no lines in range %d-%d", path, start, end)
	}

	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%4d | %s\n", i, lines[i-1])
	}
	return sb.String(), nil
}

// writeNonSymbolSections appends all non-symbol sections (files, tests,
// manifests, config) to sb. Called by both Summary and truncatedSummary.
func writeNonSymbolSections(sb *strings.Builder, inv Inventory) {
	sb.WriteString("=== Files ===\n")
	for _, f := range inv.Files {
		fmt.Fprintf(sb, "  %s (%s, %d lines)\n", f.Path, f.Language, f.Lines)
	}
	if len(inv.Tests) > 0 {
		sb.WriteString("\n=== Tests ===\n")
		for _, t := range inv.Tests {
			fmt.Fprintf(sb, "  %s: %s\n", t.Path, t.Name)
		}
	}
	if len(inv.Manifests) > 0 {
		sb.WriteString("\n=== Dependency Manifests ===\n")
		for _, m := range inv.Manifests {
			fmt.Fprintf(sb, "--- %s ---\n%s\n", m.Path, m.Content)
		}
	}
	if len(inv.ConfigFiles) > 0 {
		sb.WriteString("\n=== Config Files ===\n")
		for _, c := range inv.ConfigFiles {
			fmt.Fprintf(sb, "  %s\n", c)
		}
	}
}

// symbolLine formats one symbol for the summary.
func symbolLine(s Symbol) string {
	return fmt.Sprintf("  %s:%d %s %s\n", s.Path, s.Line, s.Kind, s.Name)
}

// symbolSectionHeader is included in the budget so the final output stays
// within maxSummaryBytes.
const symbolSectionHeader = "\n=== Symbols ===\n"

// Summary produces a text block for oracle consumption. If the output would
// exceed maxSummaryBytes, the symbol list is pruned and a notice appended;
// a warning goes to stderr when that happens.
func (inv Inventory) Summary() string {
	var sb strings.Builder

	writeNonSymbolSections(&sb, inv)

	sb.WriteString(symbolSectionHeader)
	for _, s := range inv.Symbols {
		sb.WriteString(symbolLine(s))
	}

	result := sb.String()
	if len(result) <= maxSummaryBytes {
		return result
	}

	return truncatedSummary(inv, len(result))
}

// truncatedSummary rebuilds Summary() with the symbol list pruned to fit
// within maxSummaryBytes.
func truncatedSummary(inv Inventory, fullLen int) string {
	var nonSym strings.Builder
	writeNonSymbolSections(&nonSym, inv)
	nonSymStr := nonSym.String()

	// Reserve space for the section header, truncation notice, and a margin.
	const truncationNotice = "[TRUNCATED: %d symbols omitted to fit context limit]\n"
	reservedForOverhead := len(symbolSectionHeader) + 80 // 80 bytes covers the formatted notice
	budget := maxSummaryBytes - len(nonSymStr) - reservedForOverhead

	kept := 0
	used := 0
	for _, s := range inv.Symbols {
		line := symbolLine(s)
		if used+len(line) > budget {
			break
		}
		used += len(line)
		kept++
	}

	omitted := len(inv.Symbols) - kept
	fmt.Fprintf(os.Stderr,
		"workspace: WARNING: summary truncated: %d symbols omitted (total %d chars > %d limit)\n",
		omitted, fullLen, maxSummaryBytes)

	var sb strings.Builder
	sb.WriteString(nonSymStr)
	sb.WriteString(symbolSectionHeader)
	for _, s := range inv.Symbols[:kept] {
		sb.WriteString(symbolLine(s))
	}
	fmt.Fprintf(&sb, truncationNotice, omitted)

	return sb.String()
}

// ── Symbol extraction ─────────────────────────────────────────────────────────

// pattern pairs a symbol kind with the regexp that recognizes its declaration
// on a single line. Per line, the first matching pattern wins, so more
// specific patterns must come first within a language's list.
type pattern struct {
	kind string
	re   *regexp.Regexp
}

// symbolPatterns maps file extensions to their declaration patterns.
// Designed for extension: add new entries to support additional languages.
var symbolPatterns = map[string][]pattern{
	".go": {
		{"method", regexp.MustCompile(`^func\s+\([^)]+\)\s+(\w+)\s*\(`)},
		{"func", regexp.MustCompile(`^func\s+(\w+)\s*\(`)},
		{"type", regexp.MustCompile(`^type\s+(\w+)\s+(?:struct|interface)`)},
	},
	".ts":  jsPatterns,
	".tsx": jsPatterns,
	".js":  jsPatterns,
	".jsx": jsPatterns,
	".py": {
		{"func", regexp.MustCompile(`^def\s+(\w+)\s*\(`)},
		{"class", regexp.MustCompile(`^class\s+(\w+)`)},
	},
	".rs": {
		{"func", regexp.MustCompile(`\bfn\s+(\w+)\s*\(`)},
		{"struct", regexp.MustCompile(`\bstruct\s+(\w+)`)},
		// Skips optional generic parameters (e.g. impl<T>) to capture the
		// implementing type name, not the type parameter.
		{"impl", regexp.MustCompile(`\bimpl(?:<[^>]+>)?\s+(\w+)`)},
	},
}

var jsPatterns = []pattern{
	{"func", regexp.MustCompile(`\bexport\s+(?:default\s+)?function\s+(\w+)`)},
	{"class", regexp.MustCompile(`\bexport\s+(?:default\s+)?class\s+(\w+)`)},
	{"func", regexp.MustCompile(`\bfunction\s+(\w+)\s*\(`)},
	{"class", regexp.MustCompile(`\bclass\s+(\w+)`)},
}

// testPatterns maps file extensions to test-function patterns.
var testPatterns = map[string]*regexp.Regexp{
	".go":  regexp.MustCompile(`^func\s+(Test\w+)\s*\(`),
	".ts":  jsTestRe,
	".tsx": jsTestRe,
	".js":  jsTestRe,
	".py":  regexp.MustCompile(`^def\s+(test_\w+)\s*\(`),
}

var jsTestRe = regexp.MustCompile(`(?:it|test|describe)\s*\(\s*['"]([^'"]+)['"]`)

// extractSymbols scans lines for declarations, recording one symbol per line
// at most.
func extractSymbols(pats []pattern, path string, lines []string) []Symbol {
	var out []Symbol
	for i, line := range lines {
		for _, p := range pats {
			if m := p.re.FindStringSubmatch(line); m != nil {
				out = append(out, Symbol{Name: m[1], Kind: p.kind, Path: path, Line: i + 1})
				break
			}
		}
	}
	return out
}

// extractTests scans lines of a test file for test names.
func extractTests(re *regexp.Regexp, lines []string) []string {
	var out []string
	for _, line := range lines {
		for _, m := range re.FindAllStringSubmatch(line, -1) {
			out = append(out, m[1])
		}
	}
	return out
}
