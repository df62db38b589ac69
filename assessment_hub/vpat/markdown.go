package vpat

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"a11y_platform/assessment_hub/wcag"
)

// Document is the input to the Markdown renderer, normally built from a
// published VpatVersion snapshot.
type Document struct {
	Title         string
	VersionNumber int
	PublishedAt   *time.Time
	Scope         Scope
	Rows          []CriteriaRow
}

var cellEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
)

// escapeCell makes arbitrary text safe inside a Markdown table cell:
// inline markup characters are backslash-escaped and embedded newlines
// become <br/> so the cell cannot change the table's column count.
func escapeCell(text string) string {
	escaped := cellEscaper.Replace(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	escaped = strings.ReplaceAll(escaped, "\r", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br/>")
}

func issueCell(issues []IssueRef) string {
	rendered := make([]string, 0, len(issues))
	for _, issue := range issues {
		switch {
		case issue.Title != "" && issue.Url != "":
			rendered = append(rendered, fmt.Sprintf("[%v](%v)", escapeCell(issue.Title), escapeCell(issue.Url)))
		case issue.Title != "":
			rendered = append(rendered, escapeCell(issue.Title))
		case issue.Url != "":
			rendered = append(rendered, fmt.Sprintf("<%v>", escapeCell(issue.Url)))
		}
	}
	return strings.Join(rendered, "<br/>")
}

func scopeLine(scope Scope) string {
	parts := make([]string, 0, 2)
	if len(scope.Versions) > 0 {
		parts = append(parts, fmt.Sprintf("WCAG %v", strings.Join(scope.Versions, ", ")))
	}
	if len(scope.Levels) > 0 {
		levels := make([]string, 0, len(scope.Levels))
		for _, level := range []wcag.Level{wcag.LevelA, wcag.LevelAA, wcag.LevelAAA} {
			if slices.Contains(scope.Levels, level) {
				levels = append(levels, string(level))
			}
		}
		parts = append(parts, fmt.Sprintf("Levels %v", strings.Join(levels, ", ")))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Scope: " + strings.Join(parts, " · ")
}

func levelSection(level wcag.Level, rows []CriteriaRow) []string {
	lines := []string{
		fmt.Sprintf("## WCAG Level %v", level),
		"| Criterion | Conformance | Remarks/Explanation | Issues |",
		"| --- | --- | --- | --- |",
	}

	if len(rows) == 0 {
		return append(lines, "| _(no criteria)_ |  |  |  |")
	}

	for _, row := range rows {
		criterion := escapeCell(strings.TrimSpace(row.Code + " " + row.Name))
		lines = append(lines, fmt.Sprintf("| %v | %v | %v | %v |",
			criterion, escapeCell(string(row.Conformance)), escapeCell(row.Remarks), issueCell(row.Issues)))
	}
	return lines
}

// ToMarkdown renders a snapshot into Markdown. The output is byte-stable:
// rendering the same document twice yields identical strings, rows are
// ordered by numeric code comparison within level sections, blank lines
// never repeat, and the result ends with exactly one newline. This lets a
// re-export of an unchanged version be verified by hashing.
func ToMarkdown(doc Document) string {
	rows := slices.Clone(doc.Rows)
	slices.SortFunc(rows, func(a, b CriteriaRow) int {
		return wcag.CompareCodes(a.Code, b.Code)
	})

	version := "X"
	if doc.VersionNumber > 0 {
		version = fmt.Sprintf("%d", doc.VersionNumber)
	}

	published := "YYYY-MM-DD"
	if doc.PublishedAt != nil {
		published = doc.PublishedAt.UTC().Format("2006-01-02")
	}

	header := []string{
		fmt.Sprintf("# %v (v%v)", strings.TrimSpace(doc.Title), version),
		fmt.Sprintf("Published: %v", published),
	}
	if line := scopeLine(doc.Scope); line != "" {
		header = append(header, line)
	}

	blocks := [][]string{header}
	for _, level := range []wcag.Level{wcag.LevelA, wcag.LevelAA, wcag.LevelAAA} {
		var sectionRows []CriteriaRow
		for _, row := range rows {
			if row.Level == level {
				sectionRows = append(sectionRows, row)
			}
		}
		blocks = append(blocks, levelSection(level, sectionRows))
	}

	sections := make([]string, 0, len(blocks))
	for _, block := range blocks {
		sections = append(sections, strings.Join(block, "\n"))
	}
	return strings.Join(sections, "\n\n") + "\n"
}
