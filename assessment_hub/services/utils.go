package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/schema"
	"a11y_platform/assessment_hub/storage"
	"a11y_platform/assessment_hub/vpat"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

func checkUserExists(txn *gorm.DB, userId uuid.UUID) error {
	if _, err := schema.GetUser(userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkTeamExists(txn *gorm.DB, teamId uuid.UUID) error {
	if _, err := schema.GetTeam(teamId, txn); err != nil {
		if errors.Is(err, schema.ErrTeamNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkTeamMember(txn *gorm.DB, userId, teamId uuid.UUID) error {
	if _, err := schema.GetUserTeam(teamId, userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserTeamNotFound) {
			return CodedError(errors.New("user is not a member of team"), http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkProjectExists(txn *gorm.DB, projectId uuid.UUID) error {
	if _, err := schema.GetProject(projectId, txn, false); err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkAssessmentExists(txn *gorm.DB, assessmentId uuid.UUID) error {
	if _, err := schema.GetAssessment(assessmentId, txn); err != nil {
		if errors.Is(err, schema.ErrAssessmentNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkIssueExists(txn *gorm.DB, issueId uuid.UUID) error {
	if _, err := schema.GetIssue(issueId, txn, false); err != nil {
		if errors.Is(err, schema.ErrIssueNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkForDuplicateProject(db *gorm.DB, projectName string, userId uuid.UUID) error {
	var duplicateProject schema.Project
	result := db.Limit(1).Find(&duplicateProject, "user_id = ? AND name = ?", userId, projectName)
	if result.Error != nil {
		slog.Error("sql error checking for duplicate project", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected != 0 {
		return CodedError(fmt.Errorf("a project with name %v already exists for user %v", projectName, userId), http.StatusConflict)
	}
	return nil
}

// getVpatForUser loads a vpat and checks the caller's permission on the
// owning project. Vpat routes are keyed by vpat_id, so the project permission
// middleware cannot apply directly.
func getVpatForUser(txn *gorm.DB, vpatId uuid.UUID, user schema.User, required auth.ProjectPermission) (schema.Vpat, error) {
	v, err := schema.GetVpat(vpatId, txn, false)
	if err != nil {
		if errors.Is(err, schema.ErrVpatNotFound) {
			return v, CodedError(err, http.StatusNotFound)
		}
		return v, CodedError(err, http.StatusInternalServerError)
	}

	perm, err := auth.GetProjectPermissions(v.ProjectId, user, txn)
	if err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			return v, CodedError(err, http.StatusNotFound)
		}
		return v, CodedError(err, http.StatusInternalServerError)
	}

	if perm < required {
		return v, CodedError(fmt.Errorf("user %v does not have required permission for vpat %v", user.Id, vpatId), http.StatusForbidden)
	}

	return v, nil
}

// loadProjectIssues collects the requesting user's open issues across every
// assessment linked to the project, with criterion codes attached, as input
// for aggregation and conformance suggestion. Issues filed by other users do
// not feed into the requester's report.
func loadProjectIssues(txn *gorm.DB, projectId, userId uuid.UUID) ([]vpat.IssueWithCriteria, error) {
	project, err := schema.GetProject(projectId, txn, true)
	if err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			return nil, CodedError(err, http.StatusNotFound)
		}
		return nil, CodedError(err, http.StatusInternalServerError)
	}

	assessmentIds := make([]uuid.UUID, 0, len(project.Assessments))
	for _, assessment := range project.Assessments {
		assessmentIds = append(assessmentIds, assessment.Id)
	}

	issues := make([]vpat.IssueWithCriteria, 0)
	if len(assessmentIds) == 0 {
		return issues, nil
	}

	var rows []schema.Issue
	result := txn.Preload("Criteria").
		Joins("JOIN assessment_issues ON assessment_issues.issue_id = issues.id").
		Where("assessment_issues.assessment_id IN ?", assessmentIds).
		Where("issues.status = ?", schema.IssueOpen).
		Where("issues.user_id = ?", userId).
		Distinct().
		Find(&rows)
	if result.Error != nil {
		slog.Error("sql error loading open project issues", "project_id", projectId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	for _, issue := range rows {
		issues = append(issues, vpat.IssueWithCriteria{
			Id:            issue.Id,
			Title:         issue.Title,
			Url:           issue.Url,
			Severity:      issue.Severity,
			CreatedAt:     issue.CreatedAt,
			CriteriaCodes: issue.CriteriaCodes(),
		})
	}

	return issues, nil
}

func checkDiskUsage(store storage.Storage) error {
	stats, err := store.Usage()
	if err != nil {
		slog.Error("unable to get disk usage from storage", "error", err)
		return CodedError(errors.New("unable to get disk usage"), http.StatusInternalServerError)
	}
	oneMib := uint64(1024 * 1024)
	// Either 20% disk needs to be free or 20Gb (in case the disk is very large)
	threshold := min(stats.TotalBytes/5, 20*1024*oneMib)
	if stats.FreeBytes < threshold {
		used := (stats.TotalBytes - stats.FreeBytes) / oneMib
		total := stats.TotalBytes / oneMib
		delta := (threshold - stats.FreeBytes) / oneMib
		return CodedError(fmt.Errorf("insufficient disk space available, usage: %d/%d Mib, please clear %d Mib", used, total, delta), http.StatusInsufficientStorage)
	}
	return nil
}

func checkSufficientStorage(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if err := checkDiskUsage(store); err != nil {
				slog.Error(err.Error())
				http.Error(w, err.Error(), GetResponseCode(err))
				return
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(handler)
	}
}
