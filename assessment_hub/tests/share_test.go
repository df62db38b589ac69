package tests

import (
	"errors"
	"strings"
	"testing"
)

func publishedVersion(t *testing.T, user client) (string, string) {
	t.Helper()

	projectId := auditedProject(t, user)

	vpatId, err := user.createVpat(projectId, "Checkout App", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := user.generate(vpatId); err != nil {
		t.Fatal(err)
	}
	fillBlankRemarks(t, user, vpatId)

	versionId, _, err := user.publish(vpatId)
	if err != nil {
		t.Fatal(err)
	}
	return vpatId, versionId
}

func TestPublicShare(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	_, versionId := publishedVersion(t, owner)

	shareId, err := owner.createShare(versionId, "public", "", true)
	if err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()
	report, err := anon.readShare(shareId, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Title != "Checkout App" || report.VersionNumber != 1 {
		t.Fatalf("unexpected shared report %+v", report)
	}
	if !strings.Contains(report.Markdown, "# Checkout App (v1)") {
		t.Fatal("shared markdown should contain the document header")
	}
	if len(report.Scope.Versions) != 1 || report.Scope.Versions[0] != "2.1" {
		t.Fatalf("expected the snapshot scope in the response, got %+v", report.Scope)
	}
	if len(report.Rows) == 0 {
		t.Fatal("expected the snapshot criteria rows in the response")
	}
	found := false
	for _, row := range report.Rows {
		if row.Code == "1.4.3" && row.Conformance == "Does Not Support" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected structured row for 1.4.3, got %+v", report.Rows)
	}

	if err := owner.revokeShare(shareId); err != nil {
		t.Fatal(err)
	}

	_, err = anon.readShare(shareId, "")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("revoked share should read as not found, got %v", err)
	}
}

func TestPasswordProtectedShare(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	_, versionId := publishedVersion(t, owner)

	shareId, err := owner.createShare(versionId, "password", "s3cret", true)
	if err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()

	_, err = anon.readShare(shareId, "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without password, got %v", err)
	}

	_, err = anon.readShare(shareId, "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized with wrong password, got %v", err)
	}

	report, err := anon.readShare(shareId, "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if report.VersionNumber != 1 {
		t.Fatalf("unexpected shared report %+v", report)
	}
}

func TestShareVisibilityRules(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	_, versionId := publishedVersion(t, owner)

	_, err = owner.createShare(versionId, "unlisted", "", true)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected invalid visibility to be rejected, got %v", err)
	}

	_, err = owner.createShare(versionId, "password", "", true)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected missing password to be rejected, got %v", err)
	}

	// A private share exists for the owner but reads as not found publicly.
	shareId, err := owner.createShare(versionId, "private", "", true)
	if err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()
	_, err = anon.readShare(shareId, "")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("private share should read as not found, got %v", err)
	}
}

func TestShareOwnershipRequired(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	stranger, err := env.newUser("stranger")
	if err != nil {
		t.Fatal(err)
	}

	_, versionId := publishedVersion(t, owner)

	_, err = stranger.createShare(versionId, "public", "", true)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}

	shareId, err := owner.createShare(versionId, "public", "", true)
	if err != nil {
		t.Fatal(err)
	}

	err = stranger.revokeShare(shareId)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected forbidden revoke for non-owner, got %v", err)
	}
}

func TestShareHidesIssueLinks(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	projectId := auditedProject(t, owner)

	issueId, err := owner.createIssue("tracked elsewhere", "2", []string{"2.1.1"})
	if err != nil {
		t.Fatal(err)
	}
	err = owner.Post("/issue/"+issueId+"/update").Json(map[string]interface{}{
		"title": "tracked elsewhere", "severity": "2", "url": "https://tracker.example.com/TICKET-42",
	}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	var assessments []map[string]interface{}
	if err := owner.Get("/assessment/list").Do(&assessments); err != nil {
		t.Fatal(err)
	}
	if err := owner.linkIssue(assessments[0]["id"].(string), issueId); err != nil {
		t.Fatal(err)
	}

	vpatId, err := owner.createVpat(projectId, "Checkout App", []string{"2.1"}, []string{"A", "AA"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := owner.generate(vpatId); err != nil {
		t.Fatal(err)
	}
	fillBlankRemarks(t, owner, vpatId)
	versionId, _, err := owner.publish(vpatId)
	if err != nil {
		t.Fatal(err)
	}

	withLinks, err := owner.createShare(versionId, "public", "", true)
	if err != nil {
		t.Fatal(err)
	}
	withoutLinks, err := owner.createShare(versionId, "public", "", false)
	if err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()

	visible, err := anon.readShare(withLinks, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(visible.Markdown, "tracker.example.com") {
		t.Fatal("expected issue link in share with links enabled")
	}
	if !strings.Contains(visible.Markdown, "tracked elsewhere") {
		t.Fatal("expected issue title in share with links enabled")
	}

	hidden, err := anon.readShare(withoutLinks, "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(hidden.Markdown, "tracker.example.com") {
		t.Fatal("issue links must be redacted when disabled")
	}
	if strings.Contains(hidden.Markdown, "tracked elsewhere") {
		t.Fatal("issue titles must be redacted when links are disabled")
	}
	for _, row := range hidden.Rows {
		if len(row.Issues) != 0 {
			t.Fatalf("structured rows must not carry issue refs when redacted, got %+v", row)
		}
	}
}
