package vpat_test

import (
	"testing"

	"a11y_platform/assessment_hub/vpat"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestValidatePassesCleanRows(t *testing.T) {
	violations := vpat.Validate([]vpat.DraftRow{
		{Code: "1.1.1", Conformance: strPtr("Supports")},
		{Code: "1.4.3", Conformance: strPtr("Partially Supports"), Remarks: strPtr("contrast below 4.5:1 on buttons")},
		{Code: "2.1.1", Conformance: strPtr("Not Applicable"), Remarks: strPtr("no keyboard operable widgets")},
	})
	assert.Empty(t, violations)
}

func TestValidateUntouchedRowsDoNotBlock(t *testing.T) {
	violations := vpat.Validate([]vpat.DraftRow{
		{Code: "1.1.1"},
		{Code: "1.4.3", Conformance: nil, Remarks: strPtr("stale note")},
	})
	assert.Empty(t, violations)
}

func TestValidateNonSupportsRequiresRemarks(t *testing.T) {
	violations := vpat.Validate([]vpat.DraftRow{
		{Code: "1.4.3", Conformance: strPtr("Does Not Support")},
		{Code: "2.1.1", Conformance: strPtr("Partially Supports"), Remarks: strPtr("   ")},
	})

	assert.Len(t, violations, 2)
	for _, violation := range violations {
		assert.Equal(t, "remarks", violation.Field)
	}
	assert.Equal(t, "1.4.3", violations[0].Code)
	assert.Equal(t, "2.1.1", violations[1].Code)
}

func TestValidateNotApplicableRequiresExplanation(t *testing.T) {
	violations := vpat.Validate([]vpat.DraftRow{
		{Code: "3.1.2", Conformance: strPtr("Not Applicable")},
	})

	// Not Applicable with blank remarks trips both rules.
	assert.Len(t, violations, 2)
	assert.Contains(t, violations[0].Message, "Not Applicable")
}

func TestValidateSupportsAllowsBlankRemarks(t *testing.T) {
	violations := vpat.Validate([]vpat.DraftRow{
		{Code: "1.1.1", Conformance: strPtr("Supports"), Remarks: nil},
	})
	assert.Empty(t, violations)
}
