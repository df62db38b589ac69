// Package vpat contains the conformance-report core: criteria aggregation,
// conformance suggestion, pre-publish validation, and the deterministic
// Markdown renderer. Everything in this package is a pure function over its
// inputs; persistence is the caller's concern.
package vpat

import (
	"time"

	"a11y_platform/assessment_hub/wcag"

	"github.com/google/uuid"
)

type Conformance string

const (
	Supports          Conformance = "Supports"
	PartiallySupports Conformance = "Partially Supports"
	DoesNotSupport    Conformance = "Does Not Support"
	NotApplicable     Conformance = "Not Applicable"
	NotEvaluated      Conformance = "Not Evaluated"
)

func ValidConformance(c Conformance) bool {
	switch c {
	case Supports, PartiallySupports, DoesNotSupport, NotApplicable, NotEvaluated:
		return true
	}
	return false
}

// IssueWithCriteria is the typed projection of an open issue joined with its
// criterion codes. The storage adapter produces these so the core never
// unwraps raw join rows.
type IssueWithCriteria struct {
	Id            uuid.UUID
	Title         string
	Url           string
	Severity      string
	CreatedAt     time.Time
	CriteriaCodes []string
}

// Scope describes which WCAG versions and levels a report covers.
type Scope struct {
	Versions []string     `json:"versions"`
	Levels   []wcag.Level `json:"levels"`
}

type IssueRef struct {
	Title string `json:"title,omitempty"`
	Url   string `json:"url,omitempty"`
}

// CriteriaRow is one denormalized row of a published snapshot.
type CriteriaRow struct {
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Level       wcag.Level  `json:"level"`
	Conformance Conformance `json:"conformance"`
	Remarks     string      `json:"remarks,omitempty"`
	Issues      []IssueRef  `json:"issues,omitempty"`
}
