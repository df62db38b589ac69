package vpat

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

type Suggestion struct {
	Conformance      Conformance `json:"conformance"`
	Remarks          string      `json:"remarks"`
	RelatedIssueIds  []uuid.UUID `json:"related_issue_ids"`
	RelatedIssueUrls []string    `json:"related_issue_urls"`
	Warning          string      `json:"warning,omitempty"`
}

// Severity policy: a critical ("1") or high ("2") severity issue means the
// criterion is not met, lower severities mean partial support. Adjust here
// if the product rules change; nothing else encodes this mapping.
func conformanceForSeverities(severities []string) Conformance {
	if slices.Contains(severities, "1") || slices.Contains(severities, "2") {
		return DoesNotSupport
	}
	return PartiallySupports
}

// SuggestForCriterion derives a draft conformance row from the open issues
// referencing the given criterion. When no issue references it the result is
// Not Evaluated with a warning, deliberately distinct from a verified
// "Supports": absence of findings is not evidence of compliance.
func SuggestForCriterion(projectName, code string, issues []IssueWithCriteria) Suggestion {
	related := make([]IssueWithCriteria, 0)
	for _, issue := range sortIssues(issues) {
		if slices.Contains(issue.CriteriaCodes, code) {
			related = append(related, issue)
		}
	}

	if len(related) == 0 {
		return Suggestion{
			Conformance:      NotEvaluated,
			Remarks:          "",
			RelatedIssueIds:  []uuid.UUID{},
			RelatedIssueUrls: []string{},
			Warning:          fmt.Sprintf("no open issues reference criterion %v; it has not been evaluated", code),
		}
	}

	ids := make([]uuid.UUID, 0, len(related))
	urls := make([]string, 0, len(related))
	severities := make([]string, 0, len(related))
	for _, issue := range related {
		ids = append(ids, issue.Id)
		severities = append(severities, issue.Severity)
		if issue.Url != "" {
			urls = append(urls, issue.Url)
		}
	}

	noun := "issues"
	if len(related) == 1 {
		noun = "issue"
	}

	return Suggestion{
		Conformance:      conformanceForSeverities(severities),
		Remarks:          fmt.Sprintf("%d open %v affecting criterion %v recorded for %v.", len(related), noun, code, projectName),
		RelatedIssueIds:  ids,
		RelatedIssueUrls: urls,
	}
}
