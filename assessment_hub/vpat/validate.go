package vpat

import (
	"fmt"
	"strings"
)

// DraftRow is the minimal view of a draft row the validation gate needs.
type DraftRow struct {
	Code        string
	Conformance *string
	Remarks     *string
}

type Violation struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// Validate applies the pre-publish rules to every draft row. Rows that were
// never touched (nil conformance) do not block publishing; they snapshot as
// Not Evaluated. Both rules are checked independently so a row can carry
// every message that applies to it.
func Validate(rows []DraftRow) []Violation {
	violations := make([]Violation, 0)

	for _, row := range rows {
		if row.Conformance == nil {
			continue
		}
		conformance := Conformance(*row.Conformance)

		if conformance == NotApplicable && blank(row.Remarks) {
			violations = append(violations, Violation{
				Code:    row.Code,
				Field:   "remarks",
				Message: fmt.Sprintf("criterion %v is marked Not Applicable and requires an explanation in remarks", row.Code),
			})
		}

		if conformance != Supports && blank(row.Remarks) {
			violations = append(violations, Violation{
				Code:    row.Code,
				Field:   "remarks",
				Message: fmt.Sprintf("criterion %v has conformance '%v' and requires remarks", row.Code, conformance),
			})
		}
	}

	return violations
}
