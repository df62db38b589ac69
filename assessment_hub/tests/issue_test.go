package tests

import (
	"fmt"
	"strings"
	"testing"
)

func TestIssueValidation(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createIssue("bad code", "1", []string{"9.9.9"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected unknown criterion code to be rejected, got %v", err)
	}

	_, err = user.createIssue("bad severity", "critical", nil)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected invalid severity to be rejected, got %v", err)
	}

	if _, err := user.createIssue("valid", "2", []string{"1.4.3"}); err != nil {
		t.Fatal(err)
	}
}

func TestIssueStatusTransitions(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	issueId, err := user.createIssue("focus trap", "2", []string{"2.1.2"})
	if err != nil {
		t.Fatal(err)
	}

	if err := user.setIssueStatus(issueId, "resolved"); err == nil {
		t.Fatal("expected invalid status to be rejected")
	}

	for _, status := range []string{"closed", "open", "archive"} {
		if err := user.setIssueStatus(issueId, status); err != nil {
			t.Fatalf("transition to %v failed: %v", status, err)
		}
	}

	var info map[string]interface{}
	if err := user.Get(fmt.Sprintf("/issue/%v", issueId)).Do(&info); err != nil {
		t.Fatal(err)
	}
	if info["status"] != "archive" {
		t.Fatalf("expected archive status, got %v", info["status"])
	}
}

func TestIssueCriteriaReplacement(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	issueId, err := user.createIssue("contrast", "1", []string{"1.4.3"})
	if err != nil {
		t.Fatal(err)
	}

	err = user.Post(fmt.Sprintf("/issue/%v/criteria", issueId)).
		Json(map[string][]string{"criteria_codes": {"2.1.1", "1.4.10", "2.1.1"}}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	var info struct {
		CriteriaCodes []string `json:"criteria_codes"`
	}
	if err := user.Get(fmt.Sprintf("/issue/%v", issueId)).Do(&info); err != nil {
		t.Fatal(err)
	}

	if len(info.CriteriaCodes) != 2 || info.CriteriaCodes[0] != "1.4.10" || info.CriteriaCodes[1] != "2.1.1" {
		t.Fatalf("expected deduplicated replacement codes in order, got %v", info.CriteriaCodes)
	}
}

func TestIssueOwnershipEnforced(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	other, err := env.newUser("other")
	if err != nil {
		t.Fatal(err)
	}

	issueId, err := owner.createIssue("contrast", "1", []string{"1.4.3"})
	if err != nil {
		t.Fatal(err)
	}

	err = other.setIssueStatus(issueId, "closed")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.setIssueStatus(issueId, "closed"); err != nil {
		t.Fatalf("admin should be able to edit any issue: %v", err)
	}
}

func TestDraftUnavailableWithoutProvider(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	err = user.Post("/issue/draft").Json(map[string]string{"notes": "header contrast is too low"}).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected service unavailable without a drafting provider, got %v", err)
	}
}
