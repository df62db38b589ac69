package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/schema"
	"a11y_platform/assessment_hub/wcag"
	"a11y_platform/utils"
	"a11y_platform/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssessmentService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *AssessmentService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Get("/list", s.List)

	r.Route("/{assessment_id}", func(r chi.Router) {
		r.Get("/", s.Info)
		r.Post("/update", s.Update)
		r.Delete("/", s.Delete)

		r.Post("/issues/{issue_id}", s.LinkIssue)
		r.Delete("/issues/{issue_id}", s.UnlinkIssue)

		r.Get("/reports", s.ListReports)
		r.Post("/reports", s.SaveReport)
	})

	return r
}

// checkAssessmentOwner gates mutations: only the creating user or a platform
// admin may change an assessment.
func checkAssessmentOwner(txn *gorm.DB, assessmentId uuid.UUID, user schema.User) error {
	assessment, err := schema.GetAssessment(assessmentId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrAssessmentNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	if !user.IsAdmin && assessment.UserId != user.Id {
		return CodedError(fmt.Errorf("user %v cannot modify assessment %v", user.Id, assessmentId), http.StatusForbidden)
	}
	return nil
}

type assessmentRequest struct {
	Name        string   `json:"name"`
	WcagVersion string   `json:"wcag_version"`
	Tags        []string `json:"tags"`
}

type createAssessmentResponse struct {
	AssessmentId uuid.UUID `json:"assessment_id"`
}

func (s *AssessmentService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params assessmentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "assessment name must be specified", http.StatusBadRequest)
		return
	}
	if !wcag.ValidVersion(params.WcagVersion) {
		http.Error(w, fmt.Sprintf("invalid wcag version '%v', must be one of %v", params.WcagVersion, wcag.Versions), http.StatusUnprocessableEntity)
		return
	}

	assessment := schema.Assessment{
		Id:          uuid.New(),
		Name:        params.Name,
		WcagVersion: params.WcagVersion,
		Tags:        schema.JSONValue(params.Tags),
		UserId:      user.Id,
	}

	result := s.db.Create(&assessment)
	if result.Error != nil {
		slog.Error("sql error creating new assessment", "error", result.Error)
		http.Error(w, fmt.Sprintf("error creating assessment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	slog.Info("created assessment", "code", logging.ASSESSMENT_SAVE, "assessment_id", assessment.Id, "user_id", user.Id)

	utils.WriteJsonResponse(w, createAssessmentResponse{AssessmentId: assessment.Id})
}

type assessmentInfo struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	WcagVersion string    `json:"wcag_version"`
	Tags        []string  `json:"tags,omitempty"`
	OwnerId     uuid.UUID `json:"owner_id"`
	Owner       string    `json:"owner,omitempty"`
}

func convertToAssessmentInfo(assessment *schema.Assessment) assessmentInfo {
	info := assessmentInfo{
		Id:          assessment.Id,
		Name:        assessment.Name,
		WcagVersion: assessment.WcagVersion,
		Tags:        schema.StringsFromJSON(assessment.Tags),
		OwnerId:     assessment.UserId,
	}
	if assessment.User != nil {
		info.Owner = assessment.User.Username
	}
	return info
}

func (s *AssessmentService) List(w http.ResponseWriter, r *http.Request) {
	var assessments []schema.Assessment
	result := s.db.Preload("User").Find(&assessments)
	if result.Error != nil {
		slog.Error("sql error listing assessments", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing assessments: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]assessmentInfo, 0, len(assessments))
	for _, assessment := range assessments {
		infos = append(infos, convertToAssessmentInfo(&assessment))
	}
	utils.WriteJsonResponse(w, infos)
}

type issueSummary struct {
	Id       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Severity string    `json:"severity"`
	Status   string    `json:"status"`
}

type assessmentDetailResponse struct {
	assessmentInfo
	Issues []issueSummary `json:"issues"`
}

func (s *AssessmentService) Info(w http.ResponseWriter, r *http.Request) {
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var assessment schema.Assessment
	result := s.db.Preload("User").Preload("Issues").First(&assessment, "id = ?", assessmentId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			http.Error(w, schema.ErrAssessmentNotFound.Error(), http.StatusNotFound)
			return
		}
		slog.Error("sql error in get assessment", "assessment_id", assessmentId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error getting assessment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	res := assessmentDetailResponse{
		assessmentInfo: convertToAssessmentInfo(&assessment),
		Issues:         make([]issueSummary, 0, len(assessment.Issues)),
	}
	for _, issue := range assessment.Issues {
		res.Issues = append(res.Issues, issueSummary{
			Id: issue.Id, Title: issue.Title, Severity: issue.Severity, Status: issue.Status,
		})
	}

	utils.WriteJsonResponse(w, res)
}

func (s *AssessmentService) Update(w http.ResponseWriter, r *http.Request) {
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params assessmentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.WcagVersion != "" && !wcag.ValidVersion(params.WcagVersion) {
		http.Error(w, fmt.Sprintf("invalid wcag version '%v', must be one of %v", params.WcagVersion, wcag.Versions), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkAssessmentOwner(txn, assessmentId, user); err != nil {
			return err
		}

		assessment, err := schema.GetAssessment(assessmentId, txn)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != "" {
			assessment.Name = params.Name
		}
		if params.WcagVersion != "" {
			assessment.WcagVersion = params.WcagVersion
		}
		if params.Tags != nil {
			assessment.Tags = schema.JSONValue(params.Tags)
		}

		result := txn.Save(&assessment)
		if result.Error != nil {
			slog.Error("sql error updating assessment", "assessment_id", assessmentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating assessment: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("updated assessment", "code", logging.ASSESSMENT_SAVE, "assessment_id", assessmentId)

	utils.WriteSuccess(w)
}

func (s *AssessmentService) Delete(w http.ResponseWriter, r *http.Request) {
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
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
		if err := checkAssessmentOwner(txn, assessmentId, user); err != nil {
			return err
		}

		result := txn.Select("Reports").Delete(&schema.Assessment{Id: assessmentId})
		if result.Error != nil {
			slog.Error("sql error deleting assessment", "assessment_id", assessmentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting assessment: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *AssessmentService) LinkIssue(w http.ResponseWriter, r *http.Request) {
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
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
		if err := checkAssessmentOwner(txn, assessmentId, user); err != nil {
			return err
		}
		if err := checkIssueExists(txn, issueId); err != nil {
			return err
		}

		result := txn.Save(&schema.AssessmentIssue{AssessmentId: assessmentId, IssueId: issueId})
		if result.Error != nil {
			slog.Error("sql error linking issue to assessment", "assessment_id", assessmentId, "issue_id", issueId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error linking issue: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *AssessmentService) UnlinkIssue(w http.ResponseWriter, r *http.Request) {
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
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
		if err := checkAssessmentOwner(txn, assessmentId, user); err != nil {
			return err
		}

		result := txn.Delete(&schema.AssessmentIssue{AssessmentId: assessmentId, IssueId: issueId})
		if result.Error != nil {
			slog.Error("sql error unlinking issue from assessment", "assessment_id", assessmentId, "issue_id", issueId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error unlinking issue: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type reportInfo struct {
	Id        uuid.UUID              `json:"id"`
	Name      string                 `json:"name"`
	Stats     map[string]interface{} `json:"stats,omitempty"`
	CreatedBy uuid.UUID              `json:"created_by"`
	CreatedAt string                 `json:"created_at"`
}

func (s *AssessmentService) ListReports(w http.ResponseWriter, r *http.Request) {
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkAssessmentExists(s.db, assessmentId); err != nil {
		http.Error(w, fmt.Sprintf("error listing reports: %v", err), GetResponseCode(err))
		return
	}

	var reports []schema.Report
	result := s.db.Order("created_at desc").Find(&reports, "assessment_id = ?", assessmentId)
	if result.Error != nil {
		slog.Error("sql error listing reports", "assessment_id", assessmentId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing reports: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]reportInfo, 0, len(reports))
	for _, report := range reports {
		info := reportInfo{
			Id:        report.Id,
			Name:      report.Name,
			CreatedBy: report.CreatedBy,
			CreatedAt: report.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if len(report.Stats) > 0 {
			stats := make(map[string]interface{})
			if err := json.Unmarshal(report.Stats, &stats); err == nil {
				info.Stats = stats
			}
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}

type reportStats struct {
	TotalIssues  int            `json:"total_issues"`
	OpenIssues   int            `json:"open_issues"`
	BySeverity   map[string]int `json:"by_severity"`
	ByWcagLevel  map[string]int `json:"by_wcag_level"`
	CriteriaHit  int            `json:"criteria_hit"`
	UnknownCodes int            `json:"unknown_codes"`
}

// computeReportStats derives the severity and WCAG-level breakdown of the
// assessment's issues at save time.
func computeReportStats(txn *gorm.DB, assessmentId uuid.UUID) (reportStats, error) {
	var issues []schema.Issue
	result := txn.Preload("Criteria").
		Joins("JOIN assessment_issues ON assessment_issues.issue_id = issues.id").
		Where("assessment_issues.assessment_id = ?", assessmentId).
		Find(&issues)
	if result.Error != nil {
		return reportStats{}, result.Error
	}

	stats := reportStats{
		BySeverity:  make(map[string]int),
		ByWcagLevel: make(map[string]int),
	}
	criteriaSeen := make(map[string]bool)

	for _, issue := range issues {
		stats.TotalIssues++
		if issue.Status == schema.IssueOpen {
			stats.OpenIssues++
		}
		stats.BySeverity[issue.Severity]++

		for _, code := range issue.CriteriaCodes() {
			criterion, err := wcag.Lookup(code)
			if err != nil {
				stats.UnknownCodes++
				continue
			}
			stats.ByWcagLevel[string(criterion.Level)]++
			criteriaSeen[code] = true
		}
	}
	stats.CriteriaHit = len(criteriaSeen)

	return stats, nil
}

type saveReportRequest struct {
	Name string `json:"name"`
}

type saveReportResponse struct {
	ReportId uuid.UUID `json:"report_id"`
}

// SaveReport stores a named point-in-time summary of the assessment. Stats
// are computed best effort; a failure there logs a warning and the report is
// saved with null stats.
func (s *AssessmentService) SaveReport(w http.ResponseWriter, r *http.Request) {
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params saveReportRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "report name must be specified", http.StatusBadRequest)
		return
	}

	report := schema.Report{
		Id:           uuid.New(),
		AssessmentId: assessmentId,
		Name:         params.Name,
		CreatedBy:    user.Id,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkAssessmentExists(txn, assessmentId); err != nil {
			return err
		}

		stats, err := computeReportStats(txn, assessmentId)
		if err != nil {
			slog.Warn("unable to compute report stats, saving report without them", "assessment_id", assessmentId, "error", err)
		} else {
			report.Stats = schema.JSONValue(stats)
		}

		result := txn.Create(&report)
		if result.Error != nil {
			slog.Error("sql error saving report", "assessment_id", assessmentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error saving report: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, saveReportResponse{ReportId: report.Id})
}
