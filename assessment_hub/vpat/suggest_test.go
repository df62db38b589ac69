package vpat_test

import (
	"testing"
	"time"

	"a11y_platform/assessment_hub/vpat"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSuggestCriticalSeverityMeansDoesNotSupport(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	critical, low := uuid.New(), uuid.New()

	issues := []vpat.IssueWithCriteria{
		issue(critical, base, "1", "1.4.3"),
		issue(low, base.Add(time.Minute), "4", "1.4.3", "2.1.1"),
	}

	suggestion := vpat.SuggestForCriterion("Checkout", "1.4.3", issues)
	assert.Equal(t, vpat.DoesNotSupport, suggestion.Conformance)
	assert.Equal(t, []uuid.UUID{critical, low}, suggestion.RelatedIssueIds)
	assert.Equal(t, "2 open issues affecting criterion 1.4.3 recorded for Checkout.", suggestion.Remarks)
	assert.Empty(t, suggestion.Warning)
}

func TestSuggestLowSeveritiesMeanPartialSupport(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	low := uuid.New()

	issues := []vpat.IssueWithCriteria{
		issue(uuid.New(), base, "1", "1.4.3"),
		issue(low, base.Add(time.Minute), "4", "1.4.3", "2.1.1"),
	}

	suggestion := vpat.SuggestForCriterion("Checkout", "2.1.1", issues)
	assert.Equal(t, vpat.PartiallySupports, suggestion.Conformance)
	assert.Equal(t, []uuid.UUID{low}, suggestion.RelatedIssueIds)
	assert.Equal(t, "1 open issue affecting criterion 2.1.1 recorded for Checkout.", suggestion.Remarks)
}

func TestSuggestNoIssuesMeansNotEvaluated(t *testing.T) {
	suggestion := vpat.SuggestForCriterion("Checkout", "3.1.1", nil)

	assert.Equal(t, vpat.NotEvaluated, suggestion.Conformance)
	assert.Empty(t, suggestion.Remarks)
	assert.Empty(t, suggestion.RelatedIssueIds)
	assert.Empty(t, suggestion.RelatedIssueUrls)
	assert.Contains(t, suggestion.Warning, "3.1.1")
	assert.Contains(t, suggestion.Warning, "not been evaluated")
}

func TestSuggestCollectsIssueUrls(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	withUrl := issue(uuid.New(), base, "2", "1.1.1")
	withUrl.Url = "https://app.example.com/login"
	withoutUrl := issue(uuid.New(), base.Add(time.Minute), "3", "1.1.1")

	suggestion := vpat.SuggestForCriterion("Checkout", "1.1.1", []vpat.IssueWithCriteria{withoutUrl, withUrl})
	assert.Equal(t, vpat.DoesNotSupport, suggestion.Conformance)
	assert.Equal(t, []string{"https://app.example.com/login"}, suggestion.RelatedIssueUrls)
}
