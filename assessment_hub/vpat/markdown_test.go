package vpat_test

import (
	"strings"
	"testing"
	"time"

	"a11y_platform/assessment_hub/vpat"
	"a11y_platform/assessment_hub/wcag"

	"github.com/stretchr/testify/assert"
)

func sampleDocument() vpat.Document {
	published := time.Date(2025, 3, 5, 9, 30, 0, 0, time.UTC)
	return vpat.Document{
		Title:         "Checkout App",
		VersionNumber: 2,
		PublishedAt:   &published,
		Scope: vpat.Scope{
			Versions: []string{"2.1"},
			Levels:   []wcag.Level{wcag.LevelA, wcag.LevelAA},
		},
		// Rows deliberately out of order; the renderer must sort them.
		Rows: []vpat.CriteriaRow{
			{
				Code:        "1.4.10",
				Name:        "Reflow",
				Level:       wcag.LevelAA,
				Conformance: vpat.Supports,
			},
			{
				Code:        "2.1.1",
				Name:        "Keyboard",
				Level:       wcag.LevelA,
				Conformance: vpat.PartiallySupports,
				Remarks:     "minor focus traps",
				Issues:      []vpat.IssueRef{{Title: "Focus trap", Url: "https://app.example.com/modal"}},
			},
			{
				Code:        "1.4.3",
				Name:        "Contrast (Minimum)",
				Level:       wcag.LevelAA,
				Conformance: vpat.DoesNotSupport,
				Remarks:     "header text 3.1:1 | fails\nfooter ok",
				Issues:      []vpat.IssueRef{{Title: "Low contrast header"}},
			},
		},
	}
}

const sampleMarkdown = `# Checkout App (v2)
Published: 2025-03-05
Scope: WCAG 2.1 · Levels A, AA

## WCAG Level A
| Criterion | Conformance | Remarks/Explanation | Issues |
| --- | --- | --- | --- |
| 2.1.1 Keyboard | Partially Supports | minor focus traps | [Focus trap](https://app.example.com/modal) |

## WCAG Level AA
| Criterion | Conformance | Remarks/Explanation | Issues |
| --- | --- | --- | --- |
| 1.4.3 Contrast (Minimum) | Does Not Support | header text 3.1:1 \| fails<br/>footer ok | Low contrast header |
| 1.4.10 Reflow | Supports |  |  |

## WCAG Level AAA
| Criterion | Conformance | Remarks/Explanation | Issues |
| --- | --- | --- | --- |
| _(no criteria)_ |  |  |  |
`

func TestToMarkdown(t *testing.T) {
	assert.Equal(t, sampleMarkdown, vpat.ToMarkdown(sampleDocument()))
}

func TestToMarkdownIsDeterministic(t *testing.T) {
	doc := sampleDocument()
	assert.Equal(t, vpat.ToMarkdown(doc), vpat.ToMarkdown(doc))
}

func TestToMarkdownOrdersCodesNumerically(t *testing.T) {
	out := vpat.ToMarkdown(sampleDocument())
	// 1.4.3 sorts before 1.4.10 by numeric segment, not lexically.
	assert.Less(t, strings.Index(out, "| 1.4.3 "), strings.Index(out, "| 1.4.10 "))
}

func TestToMarkdownEscapesMarkupCharacters(t *testing.T) {
	doc := vpat.Document{
		Title: "Report",
		Rows: []vpat.CriteriaRow{{
			Code:        "1.1.1",
			Name:        "Non-text Content",
			Level:       wcag.LevelA,
			Conformance: vpat.DoesNotSupport,
			Remarks:     "alt text uses *bold*, _underscore_ and `code`",
		}},
	}

	out := vpat.ToMarkdown(doc)
	assert.Contains(t, out, "\\*bold\\*")
	assert.Contains(t, out, "\\_underscore\\_")
	assert.Contains(t, out, "\\`code\\`")
}

func TestToMarkdownDraftPlaceholders(t *testing.T) {
	out := vpat.ToMarkdown(vpat.Document{Title: "Draft Preview"})

	assert.True(t, strings.HasPrefix(out, "# Draft Preview (vX)\nPublished: YYYY-MM-DD\n"))
	assert.NotContains(t, out, "Scope:")
	assert.Equal(t, 3, strings.Count(out, "| _(no criteria)_ |  |  |  |"))
}

func TestToMarkdownSingleTrailingNewline(t *testing.T) {
	out := vpat.ToMarkdown(sampleDocument())
	assert.True(t, strings.HasSuffix(out, "|\n"))
	assert.False(t, strings.HasSuffix(out, "\n\n"))
	assert.NotContains(t, out, "\n\n\n")
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "checkout-app-vpat-2-3", vpat.Slugify("Checkout App — VPAT 2.3!"))
	assert.Equal(t, "report", vpat.Slugify("  Report  "))
	assert.Equal(t, "vpat", vpat.Slugify("***"))
	assert.Equal(t, "vpat", vpat.Slugify(""))

	long := vpat.Slugify(strings.Repeat("very long title ", 10))
	assert.LessOrEqual(t, len(long), 60)
	assert.False(t, strings.HasSuffix(long, "-"))
}
