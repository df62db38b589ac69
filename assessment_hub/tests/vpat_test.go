package tests

import (
	"fmt"
	"strings"
	"testing"
)

func str(s string) *string { return &s }

// auditedProject builds a project with one linked assessment and two open
// issues: a critical contrast issue on 1.4.3 and a low severity keyboard
// issue on 1.4.3 and 2.1.1.
func auditedProject(t *testing.T, user client) string {
	t.Helper()

	projectId, err := user.createProject("checkout")
	if err != nil {
		t.Fatal(err)
	}
	assessmentId, err := user.createAssessment("audit-q1", "2.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := user.linkAssessment(projectId, assessmentId); err != nil {
		t.Fatal(err)
	}

	contrast, err := user.createIssue("low contrast header", "1", []string{"1.4.3"})
	if err != nil {
		t.Fatal(err)
	}
	keyboard, err := user.createIssue("dropdown traps focus", "4", []string{"1.4.3", "2.1.1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{contrast, keyboard} {
		if err := user.linkIssue(assessmentId, id); err != nil {
			t.Fatal(err)
		}
	}

	return projectId
}

// fillBlankRemarks gives every draft row with empty remarks a placeholder so
// the validation gate passes.
func fillBlankRemarks(t *testing.T, user client, vpatId string) {
	t.Helper()

	rows, err := user.listRows(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if row.Remarks == nil || strings.TrimSpace(*row.Remarks) == "" {
			if err := user.upsertRow(vpatId, row.Code, row.Conformance, str("Not evaluated in this audit.")); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestVpatCreateValidation(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId, err := user.createProject("checkout")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createVpat(projectId, "report", []string{"3.0"}, []string{"A"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected invalid wcag version to be rejected, got %v", err)
	}

	_, err = user.createVpat(projectId, "report", []string{"2.1"}, []string{"B"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected invalid level to be rejected, got %v", err)
	}

	if _, err := user.createVpat(projectId, "report", []string{"2.1"}, []string{"A", "AA"}); err != nil {
		t.Fatal(err)
	}
}

func TestRowUpsertIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "report", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := user.upsertRow(vpatId, "1.4.3", str("Does Not Support"), str("contrast is 3.1:1")); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := user.listRows(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("repeated upserts should leave one row, got %d", len(rows))
	}
	if rows[0].Code != "1.4.3" || *rows[0].Conformance != "Does Not Support" {
		t.Fatalf("unexpected row %+v", rows[0])
	}

	err = user.upsertRow(vpatId, "9.9.9", str("Supports"), nil)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected unknown criterion to be rejected, got %v", err)
	}

	err = user.upsertRow(vpatId, "1.4.3", str("Mostly Works"), nil)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected invalid conformance to be rejected, got %v", err)
	}
}

func TestGenerateSuggestions(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "report", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}

	written, warnings, err := user.generate(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if written == 0 {
		t.Fatal("expected generated rows for in-scope criteria")
	}
	if len(warnings) != written-2 {
		t.Fatalf("expected a warning for every criterion without issues, got %d warnings for %d rows", len(warnings), written)
	}

	rows, err := user.listRows(vpatId)
	if err != nil {
		t.Fatal(err)
	}

	byCode := make(map[string]vpatRow, len(rows))
	for _, row := range rows {
		byCode[row.Code] = row
	}

	if c := byCode["1.4.3"].Conformance; c == nil || *c != "Does Not Support" {
		t.Fatalf("critical issue should yield Does Not Support, got %v", c)
	}
	if c := byCode["2.1.1"].Conformance; c == nil || *c != "Partially Supports" {
		t.Fatalf("low severity issue should yield Partially Supports, got %v", c)
	}
	if c := byCode["1.1.1"].Conformance; c == nil || *c != "Not Evaluated" {
		t.Fatalf("criterion without issues should yield Not Evaluated, got %v", c)
	}

	if !strings.Contains(*byCode["1.4.3"].Remarks, "2 open issues affecting criterion 1.4.3") {
		t.Fatalf("unexpected generated remarks %v", *byCode["1.4.3"].Remarks)
	}
}

func TestGeneratedRowsLeaveEditorUnset(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "report", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := user.generate(vpatId); err != nil {
		t.Fatal(err)
	}

	rows, err := user.listRows(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if row.LastGeneratedAt == nil {
			t.Fatalf("generated row %v is missing last_generated_at", row.Code)
		}
		if row.LastEditedBy != nil {
			t.Fatalf("generated row %v must not record an editor, got %v", row.Code, *row.LastEditedBy)
		}
	}

	// A manual save afterwards attributes the row to the user.
	if err := user.upsertRow(vpatId, "1.4.3", str("Does Not Support"), str("contrast is 3.1:1")); err != nil {
		t.Fatal(err)
	}

	rows, err = user.listRows(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if row.Code == "1.4.3" && row.LastEditedBy == nil {
			t.Fatal("manual save must record the editing user")
		}
	}
}

func TestRowUpsertStoresIssueUrls(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "report", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}

	urls := []string{"https://tracker.example.com/TICKET-7"}
	if err := user.upsertRowWithUrls(vpatId, "1.4.3", str("Does Not Support"), str("contrast is 3.1:1"), urls); err != nil {
		t.Fatal(err)
	}

	rows, err := user.listRows(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || len(rows[0].RelatedIssueUrls) != 1 || rows[0].RelatedIssueUrls[0] != urls[0] {
		t.Fatalf("expected stored issue urls, got %+v", rows)
	}

	// A save without the field clears the stored urls.
	if err := user.upsertRow(vpatId, "1.4.3", str("Does Not Support"), str("contrast is 3.1:1")); err != nil {
		t.Fatal(err)
	}

	rows, err = user.listRows(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows[0].RelatedIssueUrls) != 0 {
		t.Fatalf("expected urls to be cleared, got %+v", rows[0].RelatedIssueUrls)
	}
}

func TestValidationGateBlocksPublish(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "report", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}

	if err := user.upsertRow(vpatId, "1.4.3", str("Not Applicable"), nil); err != nil {
		t.Fatal(err)
	}

	valid, violations, err := user.validate(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if valid || len(violations) != 2 {
		t.Fatalf("expected 2 violations for Not Applicable with blank remarks, got %v", violations)
	}

	_, _, err = user.publish(vpatId)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected publish to be blocked, got %v", err)
	}

	versions, err := user.listVersions(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 0 {
		t.Fatal("blocked publish must not create a version")
	}

	if err := user.upsertRow(vpatId, "1.4.3", str("Not Applicable"), str("no video content in product")); err != nil {
		t.Fatal(err)
	}

	valid, _, err = user.validate(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Fatal("expected draft to validate after adding remarks")
	}

	if _, number, err := user.publish(vpatId); err != nil || number != 1 {
		t.Fatalf("expected publish of version 1, got %d, %v", number, err)
	}
}

func TestPublishLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "Checkout App", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := user.generate(vpatId); err != nil {
		t.Fatal(err)
	}
	fillBlankRemarks(t, user, vpatId)

	_, number, err := user.publish(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if number != 1 {
		t.Fatalf("expected version 1, got %d", number)
	}

	// Published reports are locked.
	err = user.upsertRow(vpatId, "1.4.3", str("Supports"), str("fixed"))
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected row edits to be blocked while published, got %v", err)
	}
	err = user.Post(fmt.Sprintf("/vpat/%v/update", vpatId)).Json(map[string]string{"title": "New Title"}).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected metadata edits to be blocked while published, got %v", err)
	}

	if err := user.unpublish(vpatId); err != nil {
		t.Fatal(err)
	}

	if err := user.upsertRow(vpatId, "1.4.3", str("Supports"), str("contrast fixed in sprint 12")); err != nil {
		t.Fatal(err)
	}

	_, number, err = user.publish(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if number != 2 {
		t.Fatalf("version numbers must be monotonic, expected 2, got %d", number)
	}

	versions, err := user.listVersions(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0].VersionNumber != 2 || versions[1].VersionNumber != 1 {
		t.Fatalf("unexpected versions %+v", versions)
	}
	if !versions[0].Current || versions[1].Current {
		t.Fatalf("only the latest publish should be current, got %+v", versions)
	}
}

func TestExportDeterministicAndImmutable(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "Checkout App — VPAT", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := user.generate(vpatId); err != nil {
		t.Fatal(err)
	}
	fillBlankRemarks(t, user, vpatId)

	if _, _, err := user.publish(vpatId); err != nil {
		t.Fatal(err)
	}

	first, headers, err := user.export(vpatId, 1)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(first, "# Checkout App — VPAT (v1)\n") {
		t.Fatalf("unexpected document header: %v", strings.SplitN(first, "\n", 2)[0])
	}
	if !strings.Contains(first, "## WCAG Level A") || !strings.Contains(first, "## WCAG Level AAA") {
		t.Fatal("expected all three level sections")
	}
	if !strings.Contains(first, "| _(no criteria)_ |  |  |  |") {
		t.Fatal("out of scope levels should render the placeholder row")
	}
	if !strings.HasSuffix(first, "\n") || strings.HasSuffix(first, "\n\n") {
		t.Fatal("document must end with exactly one newline")
	}
	if disposition := headers.Get("Content-Disposition"); !strings.Contains(disposition, "checkout-app-vpat-v1.md") {
		t.Fatalf("unexpected download filename: %v", disposition)
	}

	second, _, err := user.export(vpatId, 1)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("re-export of the same version must be byte identical")
	}

	// Changing the draft and publishing again must not disturb version 1.
	if err := user.unpublish(vpatId); err != nil {
		t.Fatal(err)
	}
	if err := user.upsertRow(vpatId, "1.4.3", str("Supports"), str("fixed")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := user.publish(vpatId); err != nil {
		t.Fatal(err)
	}

	third, _, err := user.export(vpatId, 1)
	if err != nil {
		t.Fatal(err)
	}
	if first != third {
		t.Fatal("published versions must be immutable")
	}

	latest, _, err := user.export(vpatId, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(latest, "fixed") {
		t.Fatal("version 2 should reflect the edited row")
	}

	_, _, err = user.Get(fmt.Sprintf("/vpat/%v/versions/1/export?format=pdf", vpatId)).Text()
	if err == nil || !strings.Contains(err.Error(), "501") {
		t.Fatalf("expected unsupported format to return not implemented, got %v", err)
	}
}
