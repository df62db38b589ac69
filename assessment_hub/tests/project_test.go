package tests

import (
	"fmt"
	"strings"
	"testing"
)

func TestDuplicateProjectName(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := user.createProject("checkout"); err != nil {
		t.Fatal(err)
	}

	_, err = user.createProject("checkout")
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("expected conflict for duplicate project name, got %v", err)
	}

	// Same name under a different owner is fine.
	other, err := env.newUser("xyz")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.createProject("checkout"); err != nil {
		t.Fatal(err)
	}
}

func TestProjectAccessControl(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	stranger, err := env.newUser("stranger")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("private-project")
	if err != nil {
		t.Fatal(err)
	}

	err = stranger.Get(fmt.Sprintf("/project/%v", projectId)).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("stranger should not read a private project, got %v", err)
	}

	err = owner.Post(fmt.Sprintf("/project/%v/access", projectId)).
		Json(map[string]interface{}{"access": "public", "default_permission": "read"}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := stranger.Get(fmt.Sprintf("/project/%v", projectId)).Do(nil); err != nil {
		t.Fatalf("public project should be readable, got %v", err)
	}

	err = stranger.Post(fmt.Sprintf("/project/%v/update", projectId)).
		Json(map[string]string{"name": "hijacked"}).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("read permission should not allow updates, got %v", err)
	}
}

func TestCriteriaSummary(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

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

	contrastIssue, err := user.createIssue("low contrast header", "1", []string{"1.4.3"})
	if err != nil {
		t.Fatal(err)
	}
	keyboardIssue, err := user.createIssue("dropdown traps focus", "4", []string{"1.4.3", "2.1.1"})
	if err != nil {
		t.Fatal(err)
	}
	closedIssue, err := user.createIssue("already fixed", "2", []string{"1.1.1"})
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{contrastIssue, keyboardIssue, closedIssue} {
		if err := user.linkIssue(assessmentId, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := user.setIssueStatus(closedIssue, "closed"); err != nil {
		t.Fatal(err)
	}

	summary, err := user.criteriaSummary(projectId)
	if err != nil {
		t.Fatal(err)
	}

	if len(summary) != 2 {
		t.Fatalf("expected buckets for 2 criteria, got %v", summary)
	}
	if count := summary["1.4.3"]["count"]; count != float64(2) {
		t.Fatalf("expected 2 issues for 1.4.3, got %v", count)
	}
	if count := summary["2.1.1"]["count"]; count != float64(1) {
		t.Fatalf("expected 1 issue for 2.1.1, got %v", count)
	}
	if _, ok := summary["1.1.1"]; ok {
		t.Fatal("closed issues should not contribute to the summary")
	}
}

func TestCriteriaSummaryScopedToRequester(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("checkout")
	if err != nil {
		t.Fatal(err)
	}
	assessmentId, err := owner.createAssessment("audit-q1", "2.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.linkAssessment(projectId, assessmentId); err != nil {
		t.Fatal(err)
	}

	ownIssue, err := owner.createIssue("low contrast header", "1", []string{"1.4.3"})
	if err != nil {
		t.Fatal(err)
	}
	foreignIssue, err := admin.createIssue("missing alt text", "2", []string{"1.1.1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{ownIssue, foreignIssue} {
		if err := admin.linkIssue(assessmentId, id); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := owner.criteriaSummary(projectId)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected only the requester's own issues, got %v", summary)
	}
	if _, ok := summary["1.4.3"]; !ok {
		t.Fatalf("expected the requester's issue to be counted, got %v", summary)
	}
	if _, ok := summary["1.1.1"]; ok {
		t.Fatal("another user's issue must not appear in the summary")
	}
}

func TestUnlinkedAssessmentIssuesIgnored(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := user.createProject("checkout")
	if err != nil {
		t.Fatal(err)
	}
	assessmentId, err := user.createAssessment("audit-q1", "2.1")
	if err != nil {
		t.Fatal(err)
	}

	issueId, err := user.createIssue("low contrast", "1", []string{"1.4.3"})
	if err != nil {
		t.Fatal(err)
	}
	if err := user.linkIssue(assessmentId, issueId); err != nil {
		t.Fatal(err)
	}

	// The assessment is not linked to the project yet.
	summary, err := user.criteriaSummary(projectId)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 0 {
		t.Fatalf("expected empty summary, got %v", summary)
	}

	if err := user.linkAssessment(projectId, assessmentId); err != nil {
		t.Fatal(err)
	}

	summary, err = user.criteriaSummary(projectId)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected 1 bucket after linking, got %v", summary)
	}
}
