package services

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/drafting"
	"a11y_platform/assessment_hub/schema"
	"a11y_platform/assessment_hub/storage"
	"a11y_platform/assessment_hub/wcag"
	"a11y_platform/utils"
	"a11y_platform/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IssueService struct {
	db       *gorm.DB
	storage  storage.Storage
	userAuth auth.IdentityProvider
	drafter  drafting.Drafter
}

func (s *IssueService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Get("/list", s.List)
	r.Post("/draft", s.Draft)

	r.Route("/{issue_id}", func(r chi.Router) {
		r.Get("/", s.Info)
		r.Post("/update", s.Update)
		r.Delete("/", s.Delete)

		r.Post("/status", s.UpdateStatus)
		r.Post("/criteria", s.SetCriteria)

		r.With(checkSufficientStorage(s.storage)).Post("/screenshots", s.UploadScreenshot)
		r.Get("/screenshots/{filename}", s.DownloadScreenshot)
	})

	return r
}

// checkIssueOwner gates mutations: only the reporting user or a platform
// admin may change an issue.
func checkIssueOwner(txn *gorm.DB, issueId uuid.UUID, user schema.User) error {
	issue, err := schema.GetIssue(issueId, txn, false)
	if err != nil {
		if errors.Is(err, schema.ErrIssueNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	if !user.IsAdmin && issue.UserId != user.Id {
		return CodedError(fmt.Errorf("user %v cannot modify issue %v", user.Id, issueId), http.StatusForbidden)
	}
	return nil
}

func validateCriteriaCodes(codes []string) error {
	for _, code := range codes {
		if !wcag.ValidCode(code) {
			return fmt.Errorf("unknown wcag criterion code '%v'", code)
		}
	}
	return nil
}

type issueRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Severity      string   `json:"severity"`
	Url           string   `json:"url"`
	Selector      string   `json:"selector"`
	CodeSnippet   string   `json:"code_snippet"`
	Tags          []string `json:"tags"`
	CriteriaCodes []string `json:"criteria_codes"`
}

type createIssueResponse struct {
	IssueId uuid.UUID `json:"issue_id"`
}

func (s *IssueService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params issueRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Title == "" {
		http.Error(w, "issue title must be specified", http.StatusBadRequest)
		return
	}
	if err := schema.CheckValidSeverity(params.Severity); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := validateCriteriaCodes(params.CriteriaCodes); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	issue := schema.Issue{
		Id:          uuid.New(),
		Title:       params.Title,
		Description: params.Description,
		Severity:    params.Severity,
		Status:      schema.IssueOpen,
		Url:         params.Url,
		Selector:    params.Selector,
		CodeSnippet: params.CodeSnippet,
		Tags:        schema.JSONValue(params.Tags),
		UserId:      user.Id,
	}
	for _, code := range params.CriteriaCodes {
		issue.Criteria = append(issue.Criteria, schema.IssueCriterion{IssueId: issue.Id, Code: code})
	}

	result := s.db.Create(&issue)
	if result.Error != nil {
		slog.Error("sql error creating new issue", "error", result.Error)
		http.Error(w, fmt.Sprintf("error creating issue: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	issuesCreated.Inc()
	slog.Info("created issue", "code", logging.ISSUE_SAVE, "issue_id", issue.Id, "user_id", user.Id, "severity", issue.Severity)

	utils.WriteJsonResponse(w, createIssueResponse{IssueId: issue.Id})
}

type issueInfo struct {
	Id            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Severity      string    `json:"severity"`
	Status        string    `json:"status"`
	Url           string    `json:"url,omitempty"`
	Selector      string    `json:"selector,omitempty"`
	CodeSnippet   string    `json:"code_snippet,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Screenshots   []string  `json:"screenshots,omitempty"`
	CriteriaCodes []string  `json:"criteria_codes"`
	ReporterId    uuid.UUID `json:"reporter_id"`
}

func convertToIssueInfo(issue *schema.Issue) issueInfo {
	return issueInfo{
		Id:            issue.Id,
		Title:         issue.Title,
		Description:   issue.Description,
		Severity:      issue.Severity,
		Status:        issue.Status,
		Url:           issue.Url,
		Selector:      issue.Selector,
		CodeSnippet:   issue.CodeSnippet,
		Tags:          schema.StringsFromJSON(issue.Tags),
		Screenshots:   schema.StringsFromJSON(issue.Screenshots),
		CriteriaCodes: issue.CriteriaCodes(),
		ReporterId:    issue.UserId,
	}
}

func (s *IssueService) List(w http.ResponseWriter, r *http.Request) {
	query := s.db.Preload("Criteria")

	if status := utils.QueryParam(r, "status", ""); status != "" {
		if err := schema.CheckValidIssueStatus(status); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("status = ?", status)
	}
	if severity := utils.QueryParam(r, "severity", ""); severity != "" {
		if err := schema.CheckValidSeverity(severity); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("severity = ?", severity)
	}

	var issues []schema.Issue
	result := query.Order("created_at desc").Find(&issues)
	if result.Error != nil {
		slog.Error("sql error listing issues", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing issues: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]issueInfo, 0, len(issues))
	for _, issue := range issues {
		infos = append(infos, convertToIssueInfo(&issue))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *IssueService) Info(w http.ResponseWriter, r *http.Request) {
	issueId, err := utils.URLParamUUID(r, "issue_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	issue, err := schema.GetIssue(issueId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrIssueNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting issue: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToIssueInfo(&issue))
}

func (s *IssueService) Update(w http.ResponseWriter, r *http.Request) {
	issueId, err := utils.URLParamUUID(r, "issue_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params issueRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Severity != "" {
		if err := schema.CheckValidSeverity(params.Severity); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkIssueOwner(txn, issueId, user); err != nil {
			return err
		}

		issue, err := schema.GetIssue(issueId, txn, false)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Title != "" {
			issue.Title = params.Title
		}
		issue.Description = params.Description
		if params.Severity != "" {
			issue.Severity = params.Severity
		}
		issue.Url = params.Url
		issue.Selector = params.Selector
		issue.CodeSnippet = params.CodeSnippet
		if params.Tags != nil {
			issue.Tags = schema.JSONValue(params.Tags)
		}

		result := txn.Save(&issue)
		if result.Error != nil {
			slog.Error("sql error updating issue", "issue_id", issueId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating issue: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("updated issue", "code", logging.ISSUE_SAVE, "issue_id", issueId)

	utils.WriteSuccess(w)
}

func (s *IssueService) Delete(w http.ResponseWriter, r *http.Request) {
	issueId, err := utils.URLParamUUID(r, "issue_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkIssueOwner(txn, issueId, user); err != nil {
			return err
		}

		result := txn.Select("Criteria").Delete(&schema.Issue{Id: issueId})
		if result.Error != nil {
			slog.Error("sql error deleting issue", "issue_id", issueId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting issue: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *IssueService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	issueId, err := utils.URLParamUUID(r, "issue_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params updateStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidIssueStatus(params.Status); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkIssueOwner(txn, issueId, user); err != nil {
			return err
		}

		result := txn.Model(&schema.Issue{Id: issueId}).Update("status", params.Status)
		if result.Error != nil {
			slog.Error("sql error updating issue status", "issue_id", issueId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating issue status: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("updated issue status", "code", logging.ISSUE_SAVE, "issue_id", issueId, "status", params.Status)

	utils.WriteSuccess(w)
}

type setCriteriaRequest struct {
	CriteriaCodes []string `json:"criteria_codes"`
}

// SetCriteria replaces the issue's criterion links with the given set.
func (s *IssueService) SetCriteria(w http.ResponseWriter, r *http.Request) {
	issueId, err := utils.URLParamUUID(r, "issue_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params setCriteriaRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := validateCriteriaCodes(params.CriteriaCodes); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkIssueOwner(txn, issueId, user); err != nil {
			return err
		}

		result := txn.Delete(&schema.IssueCriterion{}, "issue_id = ?", issueId)
		if result.Error != nil {
			slog.Error("sql error clearing issue criteria", "issue_id", issueId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		deduped := make([]string, 0, len(params.CriteriaCodes))
		for _, code := range params.CriteriaCodes {
			if !slices.Contains(deduped, code) {
				deduped = append(deduped, code)
			}
		}
		for _, code := range deduped {
			result := txn.Create(&schema.IssueCriterion{IssueId: issueId, Code: code})
			if result.Error != nil {
				slog.Error("sql error linking issue criterion", "issue_id", issueId, "criterion", code, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error setting issue criteria: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// Draft asks the configured LLM to turn rough notes into a structured issue
// draft. Nothing is persisted; the caller reviews and saves via Create.
func (s *IssueService) Draft(w http.ResponseWriter, r *http.Request) {
	if s.drafter == nil {
		issueDraftRequests.WithLabelValues("unavailable").Inc()
		http.Error(w, "issue drafting is not configured on this deployment", http.StatusServiceUnavailable)
		return
	}

	var params drafting.DraftRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Notes == "" {
		http.Error(w, "notes must be provided to draft an issue", http.StatusBadRequest)
		return
	}

	draft, err := s.drafter.DraftIssue(r.Context(), params)
	if err != nil {
		issueDraftRequests.WithLabelValues("error").Inc()
		slog.Error("error drafting issue", "code", logging.ISSUE_DRAFT, "error", err)
		http.Error(w, fmt.Sprintf("error drafting issue: %v", err), http.StatusBadGateway)
		return
	}

	issueDraftRequests.WithLabelValues("success").Inc()
	slog.Info("drafted issue from notes", "code", logging.ISSUE_DRAFT, "criteria", draft.CriteriaCodes)

	utils.WriteJsonResponse(w, draft)
}

const maxScreenshotBytes = 10 << 20

type uploadScreenshotResponse struct {
	Filename string `json:"filename"`
}

func (s *IssueService) UploadScreenshot(w http.ResponseWriter, r *http.Request) {
	issueId, err := utils.URLParamUUID(r, "issue_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(maxScreenshotBytes); err != nil {
		http.Error(w, fmt.Sprintf("error parsing upload: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "upload must contain a 'file' form field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		http.Error(w, "uploaded file must have a name", http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkIssueOwner(txn, issueId, user); err != nil {
			return err
		}

		if err := s.storage.Write(storage.ScreenshotPath(issueId, filename), file); err != nil {
			slog.Error("error writing screenshot to storage", "issue_id", issueId, "error", err)
			return CodedError(errors.New("unable to store screenshot"), http.StatusInternalServerError)
		}

		issue, err := schema.GetIssue(issueId, txn, false)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		names := schema.StringsFromJSON(issue.Screenshots)
		if !slices.Contains(names, filename) {
			names = append(names, filename)
		}
		issue.Screenshots = schema.JSONValue(names)

		result := txn.Save(&issue)
		if result.Error != nil {
			slog.Error("sql error recording screenshot", "issue_id", issueId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error uploading screenshot: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, uploadScreenshotResponse{Filename: filename})
}

func (s *IssueService) DownloadScreenshot(w http.ResponseWriter, r *http.Request) {
	issueId, err := utils.URLParamUUID(r, "issue_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filename, err := utils.URLParam(r, "filename")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkIssueExists(s.db, issueId); err != nil {
		http.Error(w, fmt.Sprintf("error downloading screenshot: %v", err), GetResponseCode(err))
		return
	}

	reader, err := s.storage.Read(storage.ScreenshotPath(issueId, filename))
	if err != nil {
		http.Error(w, "screenshot not found", http.StatusNotFound)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(filename)))
	if _, err := io.Copy(w, reader); err != nil {
		slog.Error("error streaming screenshot", "issue_id", issueId, "error", err)
	}
}
