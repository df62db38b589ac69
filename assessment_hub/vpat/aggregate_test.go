package vpat_test

import (
	"testing"
	"time"

	"a11y_platform/assessment_hub/vpat"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func issue(id uuid.UUID, createdAt time.Time, severity string, codes ...string) vpat.IssueWithCriteria {
	return vpat.IssueWithCriteria{
		Id:            id,
		Title:         "issue " + id.String()[:8],
		Severity:      severity,
		CreatedAt:     createdAt,
		CriteriaCodes: codes,
	}
}

func TestAggregateBucketsPerCriterion(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()

	buckets := vpat.Aggregate([]vpat.IssueWithCriteria{
		issue(first, base, "1", "1.4.3"),
		issue(second, base.Add(time.Minute), "4", "1.4.3", "2.1.1"),
	})

	assert.Len(t, buckets, 2)
	assert.Equal(t, 2, buckets["1.4.3"].Count)
	assert.Equal(t, []uuid.UUID{first, second}, buckets["1.4.3"].IssueIds)
	assert.Equal(t, 1, buckets["2.1.1"].Count)
	assert.Equal(t, []uuid.UUID{second}, buckets["2.1.1"].IssueIds)
}

func TestAggregateDeduplicates(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()

	dup := issue(id, base, "2", "1.1.1", "1.1.1")
	buckets := vpat.Aggregate([]vpat.IssueWithCriteria{dup, dup})

	assert.Equal(t, 1, buckets["1.1.1"].Count)
	assert.Equal(t, []uuid.UUID{id}, buckets["1.1.1"].IssueIds)
}

func TestAggregateIgnoresIssuesWithoutCriteria(t *testing.T) {
	buckets := vpat.Aggregate([]vpat.IssueWithCriteria{
		issue(uuid.New(), time.Now(), "3"),
	})
	assert.Empty(t, buckets)

	assert.Empty(t, vpat.Aggregate(nil))
}

func TestAggregateOrdersByCreationTime(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	older, newer := uuid.New(), uuid.New()

	// Pass the newer issue first; ids must still come back oldest first.
	buckets := vpat.Aggregate([]vpat.IssueWithCriteria{
		issue(newer, base.Add(time.Hour), "3", "2.4.7"),
		issue(older, base, "3", "2.4.7"),
	})

	assert.Equal(t, []uuid.UUID{older, newer}, buckets["2.4.7"].IssueIds)
}
