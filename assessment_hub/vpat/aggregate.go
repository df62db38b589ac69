package vpat

import (
	"slices"

	"github.com/google/uuid"
)

type CriterionIssues struct {
	Count    int         `json:"count"`
	IssueIds []uuid.UUID `json:"issue_ids"`
}

// sortIssues orders issues by creation time, breaking ties on id so the
// ordering is stable for issues created in the same instant.
func sortIssues(issues []IssueWithCriteria) []IssueWithCriteria {
	sorted := slices.Clone(issues)
	slices.SortFunc(sorted, func(a, b IssueWithCriteria) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.Id[:], b.Id[:])
	})
	return sorted
}

// Aggregate buckets open issues per criterion code. Each issue counts at
// most once per code even if the caller passed duplicate entries or an issue
// lists a code twice. An issue with no codes contributes to no bucket. The
// result is empty, never nil or an error, when there is nothing to count.
func Aggregate(issues []IssueWithCriteria) map[string]CriterionIssues {
	buckets := make(map[string]CriterionIssues)

	seen := make(map[uuid.UUID]struct{}, len(issues))
	for _, issue := range sortIssues(issues) {
		if _, dup := seen[issue.Id]; dup {
			continue
		}
		seen[issue.Id] = struct{}{}

		codes := make([]string, 0, len(issue.CriteriaCodes))
		for _, code := range issue.CriteriaCodes {
			if !slices.Contains(codes, code) {
				codes = append(codes, code)
			}
		}

		for _, code := range codes {
			bucket := buckets[code]
			bucket.Count++
			bucket.IssueIds = append(bucket.IssueIds, issue.Id)
			buckets[code] = bucket
		}
	}

	return buckets
}
