package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/schema"
	"a11y_platform/assessment_hub/storage"
	"a11y_platform/assessment_hub/vpat"
	"a11y_platform/assessment_hub/wcag"
	"a11y_platform/utils"
	"a11y_platform/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type VpatService struct {
	db       *gorm.DB
	storage  storage.Storage
	userAuth auth.IdentityProvider
}

func (s *VpatService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Get("/list", s.List)

	r.Route("/{vpat_id}", func(r chi.Router) {
		r.Get("/", s.Info)
		r.Post("/update", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/rows", s.ListRows)
		r.Post("/rows/{code}", s.UpsertRow)

		r.Post("/generate", s.Generate)
		r.Get("/validate", s.ValidateDraft)

		r.Post("/publish", s.Publish)
		r.Post("/unpublish", s.Unpublish)

		r.Get("/versions", s.ListVersions)
		r.With(checkSufficientStorage(s.storage)).Get("/versions/{version_number}/export", s.Export)
		r.With(checkSufficientStorage(s.storage)).Get("/exports/bundle", s.ExportBundle)
	})

	return r
}

func vpatScope(v *schema.Vpat) vpat.Scope {
	scope := vpat.Scope{Versions: schema.StringsFromJSON(v.WcagVersions)}
	for _, level := range schema.StringsFromJSON(v.Levels) {
		scope.Levels = append(scope.Levels, wcag.Level(level))
	}
	return scope
}

type createVpatRequest struct {
	ProjectId    uuid.UUID    `json:"project_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	WcagVersions []string     `json:"wcag_versions"`
	Levels       []wcag.Level `json:"levels"`
}

type createVpatResponse struct {
	VpatId uuid.UUID `json:"vpat_id"`
}

func (s *VpatService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createVpatRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Title == "" {
		http.Error(w, "vpat title must be specified", http.StatusBadRequest)
		return
	}
	if len(params.WcagVersions) == 0 || len(params.Levels) == 0 {
		http.Error(w, "at least one wcag version and level must be in scope", http.StatusUnprocessableEntity)
		return
	}
	for _, version := range params.WcagVersions {
		if !wcag.ValidVersion(version) {
			http.Error(w, fmt.Sprintf("invalid wcag version '%v', must be one of %v", version, wcag.Versions), http.StatusUnprocessableEntity)
			return
		}
	}
	for _, level := range params.Levels {
		if !wcag.ValidLevel(level) {
			http.Error(w, fmt.Sprintf("invalid wcag level '%v'", level), http.StatusUnprocessableEntity)
			return
		}
	}

	report := schema.Vpat{
		Id:           uuid.New(),
		ProjectId:    params.ProjectId,
		Title:        params.Title,
		Description:  params.Description,
		Status:       schema.VpatDraft,
		WcagVersions: schema.JSONValue(params.WcagVersions),
		Levels:       schema.JSONValue(params.Levels),
		CreatedBy:    user.Id,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		perm, err := auth.GetProjectPermissions(params.ProjectId, user, txn)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if perm < auth.WritePermission {
			return CodedError(fmt.Errorf("user %v does not have write permission for project %v", user.Id, params.ProjectId), http.StatusForbidden)
		}

		result := txn.Create(&report)
		if result.Error != nil {
			slog.Error("sql error creating new vpat", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating vpat: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createVpatResponse{VpatId: report.Id})
}

type vpatInfo struct {
	Id               uuid.UUID  `json:"id"`
	ProjectId        uuid.UUID  `json:"project_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           string     `json:"status"`
	Scope            vpat.Scope `json:"scope"`
	CurrentVersionId *uuid.UUID `json:"current_version_id,omitempty"`
	CreatedBy        uuid.UUID  `json:"created_by"`
}

func convertToVpatInfo(v *schema.Vpat) vpatInfo {
	return vpatInfo{
		Id:               v.Id,
		ProjectId:        v.ProjectId,
		Title:            v.Title,
		Description:      v.Description,
		Status:           v.Status,
		Scope:            vpatScope(v),
		CurrentVersionId: v.CurrentVersionId,
		CreatedBy:        v.CreatedBy,
	}
}

func (s *VpatService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	projectId, err := uuid.Parse(utils.QueryParam(r, "project_id", ""))
	if err != nil {
		http.Error(w, "valid project_id query parameter must be provided", http.StatusBadRequest)
		return
	}

	perm, err := auth.GetProjectPermissions(projectId, user, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if perm < auth.ReadPermission {
		http.Error(w, fmt.Sprintf("user %v does not have read permission for project %v", user.Id, projectId), http.StatusForbidden)
		return
	}

	var reports []schema.Vpat
	result := s.db.Order("created_at desc").Find(&reports, "project_id = ?", projectId)
	if result.Error != nil {
		slog.Error("sql error listing vpats", "project_id", projectId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing vpats: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]vpatInfo, 0, len(reports))
	for _, report := range reports {
		infos = append(infos, convertToVpatInfo(&report))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *VpatService) Info(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	report, err := getVpatForUser(s.db, vpatId, user, auth.ReadPermission)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting vpat: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToVpatInfo(&report))
}

type updateVpatRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Update edits the title and description of a draft. Published reports are
// locked; unpublish first to edit.
func (s *VpatService) Update(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params updateVpatRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		report, err := getVpatForUser(txn, vpatId, user, auth.WritePermission)
		if err != nil {
			return err
		}

		if report.Status != schema.VpatDraft {
			return CodedError(fmt.Errorf("vpat %v is published and cannot be edited", vpatId), http.StatusUnprocessableEntity)
		}

		if params.Title != "" {
			report.Title = params.Title
		}
		report.Description = params.Description

		result := txn.Save(&report)
		if result.Error != nil {
			slog.Error("sql error updating vpat", "vpat_id", vpatId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating vpat: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *VpatService) Delete(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
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
		if _, err := getVpatForUser(txn, vpatId, user, auth.OwnerPermission); err != nil {
			return err
		}

		result := txn.Select("Rows", "Versions").Delete(&schema.Vpat{Id: vpatId})
		if result.Error != nil {
			slog.Error("sql error deleting vpat", "vpat_id", vpatId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting vpat: %v", err), GetResponseCode(err))
		return
	}

	if err := s.storage.Delete(storage.VpatPath(vpatId)); err != nil {
		slog.Error("error deleting vpat export artifacts", "vpat_id", vpatId, "error", err)
	}

	utils.WriteSuccess(w)
}

type vpatRowInfo struct {
	Code             string      `json:"code"`
	Conformance      *string     `json:"conformance"`
	Remarks          *string     `json:"remarks"`
	RelatedIssueIds  []uuid.UUID `json:"related_issue_ids,omitempty"`
	RelatedIssueUrls []string    `json:"related_issue_urls,omitempty"`
	LastGeneratedAt  *time.Time  `json:"last_generated_at,omitempty"`
	LastEditedBy     *uuid.UUID  `json:"last_edited_by,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func convertToRowInfo(row *schema.VpatRowDraft) vpatRowInfo {
	return vpatRowInfo{
		Code:             row.Code,
		Conformance:      row.Conformance,
		Remarks:          row.Remarks,
		RelatedIssueIds:  schema.UUIDsFromJSON(row.RelatedIssueIds),
		RelatedIssueUrls: schema.StringsFromJSON(row.RelatedIssueUrls),
		LastGeneratedAt:  row.LastGeneratedAt,
		LastEditedBy:     row.LastEditedBy,
		UpdatedAt:        row.UpdatedAt,
	}
}

// ListRows returns the draft rows most recently touched first. A vpat with
// no rows yet yields an empty array, not an error.
func (s *VpatService) ListRows(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := getVpatForUser(s.db, vpatId, user, auth.ReadPermission); err != nil {
		http.Error(w, fmt.Sprintf("error listing vpat rows: %v", err), GetResponseCode(err))
		return
	}

	var rows []schema.VpatRowDraft
	result := s.db.Order("updated_at desc").Find(&rows, "vpat_id = ?", vpatId)
	if result.Error != nil {
		slog.Error("sql error listing vpat rows", "vpat_id", vpatId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing vpat rows: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]vpatRowInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, convertToRowInfo(&row))
	}
	utils.WriteJsonResponse(w, infos)
}

type upsertRowRequest struct {
	Conformance      *string     `json:"conformance"`
	Remarks          *string     `json:"remarks"`
	RelatedIssueIds  []uuid.UUID `json:"related_issue_ids"`
	RelatedIssueUrls []string    `json:"related_issue_urls"`
}

// UpsertRow writes the single mutable row for a (vpat, criterion) pair.
// Repeating the call with the same payload leaves one row in place.
func (s *VpatService) UpsertRow(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code, err := utils.URLParam(r, "code")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params upsertRowRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if !wcag.ValidCode(code) {
		http.Error(w, fmt.Sprintf("unknown wcag criterion code '%v'", code), http.StatusUnprocessableEntity)
		return
	}
	if params.Conformance != nil && !vpat.ValidConformance(vpat.Conformance(*params.Conformance)) {
		http.Error(w, fmt.Sprintf("invalid conformance value '%v'", *params.Conformance), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		report, err := getVpatForUser(txn, vpatId, user, auth.WritePermission)
		if err != nil {
			return err
		}

		if report.Status != schema.VpatDraft {
			return CodedError(fmt.Errorf("vpat %v is published, rows cannot be edited", vpatId), http.StatusUnprocessableEntity)
		}

		row := schema.VpatRowDraft{
			VpatId:       vpatId,
			Code:         code,
			Conformance:  params.Conformance,
			Remarks:      params.Remarks,
			LastEditedBy: &user.Id,
		}
		if params.RelatedIssueIds != nil {
			row.RelatedIssueIds = schema.JSONValue(params.RelatedIssueIds)
		}
		if params.RelatedIssueUrls != nil {
			row.RelatedIssueUrls = schema.JSONValue(params.RelatedIssueUrls)
		}

		result := txn.Save(&row)
		if result.Error != nil {
			slog.Error("sql error upserting vpat row", "vpat_id", vpatId, "criterion", code, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error upserting vpat row: %v", err), GetResponseCode(err))
		return
	}

	vpatRowUpserts.Inc()
	slog.Info("upserted vpat row", "code", logging.VPAT_ROW_UPSERT, "vpat_id", vpatId, "criterion", code, "user_id", user.Id)

	utils.WriteSuccess(w)
}

type generateResponse struct {
	RowsWritten int      `json:"rows_written"`
	Warnings    []string `json:"warnings"`
}

// Generate fills the draft with suggested conformance rows derived from the
// project's open issues, one row per in-scope criterion. Existing rows are
// overwritten; manual edits afterwards win because rows stay mutable until
// publish.
func (s *VpatService) Generate(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := generateResponse{Warnings: make([]string, 0)}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		report, err := getVpatForUser(txn, vpatId, user, auth.WritePermission)
		if err != nil {
			return err
		}

		if report.Status != schema.VpatDraft {
			return CodedError(fmt.Errorf("vpat %v is published, rows cannot be generated", vpatId), http.StatusUnprocessableEntity)
		}

		project, err := schema.GetProject(report.ProjectId, txn, false)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		issues, err := loadProjectIssues(txn, report.ProjectId, user.Id)
		if err != nil {
			return err
		}

		scope := vpatScope(&report)
		now := time.Now().UTC()

		for _, criterion := range wcag.ForScope(scope.Versions, scope.Levels) {
			suggestion := vpat.SuggestForCriterion(project.Name, criterion.Code, issues)
			if suggestion.Warning != "" {
				res.Warnings = append(res.Warnings, suggestion.Warning)
			}

			conformance := string(suggestion.Conformance)
			row := schema.VpatRowDraft{
				VpatId:           vpatId,
				Code:             criterion.Code,
				Conformance:      &conformance,
				Remarks:          &suggestion.Remarks,
				RelatedIssueIds:  schema.JSONValue(suggestion.RelatedIssueIds),
				RelatedIssueUrls: schema.JSONValue(suggestion.RelatedIssueUrls),
				LastGeneratedAt:  &now,
			}

			// Machine writes never claim authorship. last_edited_by stays
			// whatever the last human edit set it to.
			result := txn.Omit("last_edited_by").Save(&row)
			if result.Error != nil {
				slog.Error("sql error writing generated vpat row", "vpat_id", vpatId, "criterion", criterion.Code, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			res.RowsWritten++
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error generating vpat rows: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("generated vpat rows", "code", logging.VPAT_GENERATE, "vpat_id", vpatId, "rows", res.RowsWritten, "warnings", len(res.Warnings))

	utils.WriteJsonResponse(w, res)
}

func loadDraftRows(txn *gorm.DB, vpatId uuid.UUID) ([]schema.VpatRowDraft, error) {
	var rows []schema.VpatRowDraft
	result := txn.Find(&rows, "vpat_id = ?", vpatId)
	if result.Error != nil {
		slog.Error("sql error loading vpat draft rows", "vpat_id", vpatId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return rows, nil
}

func validateRows(rows []schema.VpatRowDraft) []vpat.Violation {
	draftRows := make([]vpat.DraftRow, 0, len(rows))
	for _, row := range rows {
		draftRows = append(draftRows, vpat.DraftRow{
			Code: row.Code, Conformance: row.Conformance, Remarks: row.Remarks,
		})
	}
	return vpat.Validate(draftRows)
}

type validateResponse struct {
	Valid      bool             `json:"valid"`
	Violations []vpat.Violation `json:"violations"`
}

func (s *VpatService) ValidateDraft(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := getVpatForUser(s.db, vpatId, user, auth.ReadPermission); err != nil {
		http.Error(w, fmt.Sprintf("error validating vpat: %v", err), GetResponseCode(err))
		return
	}

	rows, err := loadDraftRows(s.db, vpatId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error validating vpat: %v", err), GetResponseCode(err))
		return
	}

	violations := validateRows(rows)
	slog.Info("validated vpat draft", "code", logging.VPAT_VALIDATE, "vpat_id", vpatId, "violations", len(violations))

	utils.WriteJsonResponse(w, validateResponse{Valid: len(violations) == 0, Violations: violations})
}

// snapshotRows joins every in-scope criterion with its draft row into the
// denormalized rows a published version carries. Criteria never touched
// snapshot as Not Evaluated. Issue titles and urls are copied in so the
// snapshot stays renderable after issues change or disappear.
func snapshotRows(txn *gorm.DB, report *schema.Vpat, drafts []schema.VpatRowDraft) ([]vpat.CriteriaRow, error) {
	byCode := make(map[string]schema.VpatRowDraft, len(drafts))
	for _, draft := range drafts {
		byCode[draft.Code] = draft
	}

	scope := vpatScope(report)
	criteria := wcag.ForScope(scope.Versions, scope.Levels)

	rows := make([]vpat.CriteriaRow, 0, len(criteria))
	for _, criterion := range criteria {
		row := vpat.CriteriaRow{
			Code:        criterion.Code,
			Name:        criterion.Name,
			Level:       criterion.Level,
			Conformance: vpat.NotEvaluated,
		}

		if draft, ok := byCode[criterion.Code]; ok {
			if draft.Conformance != nil {
				row.Conformance = vpat.Conformance(*draft.Conformance)
			}
			if draft.Remarks != nil {
				row.Remarks = *draft.Remarks
			}
			for _, issueId := range schema.UUIDsFromJSON(draft.RelatedIssueIds) {
				issue, err := schema.GetIssue(issueId, txn, false)
				if err != nil {
					if errors.Is(err, schema.ErrIssueNotFound) {
						continue
					}
					return nil, CodedError(err, http.StatusInternalServerError)
				}
				row.Issues = append(row.Issues, vpat.IssueRef{Title: issue.Title, Url: issue.Url})
			}
		}

		rows = append(rows, row)
	}

	return rows, nil
}

type publishResponse struct {
	VersionId     uuid.UUID `json:"version_id"`
	VersionNumber int       `json:"version_number"`
}

type publishBlockedResponse struct {
	Message    string           `json:"message"`
	Violations []vpat.Violation `json:"violations"`
}

// Publish runs the validation gate and, if it passes, freezes the draft into
// an immutable numbered version. The unique index on (vpat_id, version_number)
// backstops the max+1 assignment against concurrent publishes.
func (s *VpatService) Publish(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var res publishResponse
	var blocked *publishBlockedResponse

	err = s.db.Transaction(func(txn *gorm.DB) error {
		report, err := getVpatForUser(txn, vpatId, user, auth.WritePermission)
		if err != nil {
			return err
		}

		drafts, err := loadDraftRows(txn, vpatId)
		if err != nil {
			return err
		}

		if violations := validateRows(drafts); len(violations) > 0 {
			blocked = &publishBlockedResponse{
				Message:    fmt.Sprintf("vpat %v has %d validation violations blocking publish", vpatId, len(violations)),
				Violations: violations,
			}
			return CodedError(errors.New(blocked.Message), http.StatusUnprocessableEntity)
		}

		rows, err := snapshotRows(txn, &report, drafts)
		if err != nil {
			return err
		}

		var maxVersion int
		result := txn.Model(&schema.VpatVersion{}).
			Where("vpat_id = ?", vpatId).
			Select("coalesce(max(version_number), 0)").
			Scan(&maxVersion)
		if result.Error != nil {
			slog.Error("sql error finding latest vpat version", "vpat_id", vpatId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		version := schema.VpatVersion{
			Id:            uuid.New(),
			VpatId:        vpatId,
			VersionNumber: maxVersion + 1,
			PublishedBy:   user.Id,
			PublishedAt:   time.Now().UTC(),
			WcagScope:     schema.JSONValue(vpatScope(&report)),
			CriteriaRows:  schema.JSONValue(rows),
		}

		result = txn.Create(&version)
		if result.Error != nil {
			slog.Error("sql error creating vpat version", "vpat_id", vpatId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		report.Status = schema.VpatPublished
		report.CurrentVersionId = &version.Id
		result = txn.Save(&report)
		if result.Error != nil {
			slog.Error("sql error marking vpat published", "vpat_id", vpatId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		res = publishResponse{VersionId: version.Id, VersionNumber: version.VersionNumber}
		return nil
	})

	if err != nil {
		if blocked != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			if encodeErr := json.NewEncoder(w).Encode(blocked); encodeErr != nil {
				slog.Error("error serializing publish violations", "error", encodeErr)
			}
			return
		}
		http.Error(w, fmt.Sprintf("error publishing vpat: %v", err), GetResponseCode(err))
		return
	}

	vpatPublishes.Inc()
	slog.Info("published vpat version", "code", logging.VPAT_PUBLISH, "vpat_id", vpatId, "version", res.VersionNumber, "user_id", user.Id)

	utils.WriteJsonResponse(w, res)
}

// Unpublish returns the report to draft for further edits. Published versions
// are kept; only the pointer to the current one is cleared.
func (s *VpatService) Unpublish(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
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
		report, err := getVpatForUser(txn, vpatId, user, auth.WritePermission)
		if err != nil {
			return err
		}

		if report.Status != schema.VpatPublished {
			return CodedError(fmt.Errorf("vpat %v is not published", vpatId), http.StatusUnprocessableEntity)
		}

		report.Status = schema.VpatDraft
		report.CurrentVersionId = nil

		result := txn.Save(&report)
		if result.Error != nil {
			slog.Error("sql error unpublishing vpat", "vpat_id", vpatId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error unpublishing vpat: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("unpublished vpat", "code", logging.VPAT_UNPUBLISH, "vpat_id", vpatId, "user_id", user.Id)

	utils.WriteSuccess(w)
}

type versionInfo struct {
	Id            uuid.UUID `json:"id"`
	VersionNumber int       `json:"version_number"`
	PublishedBy   uuid.UUID `json:"published_by"`
	PublishedAt   time.Time `json:"published_at"`
	Current       bool      `json:"current"`
}

func (s *VpatService) ListVersions(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	report, err := getVpatForUser(s.db, vpatId, user, auth.ReadPermission)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing vpat versions: %v", err), GetResponseCode(err))
		return
	}

	var versions []schema.VpatVersion
	result := s.db.Order("version_number desc").Find(&versions, "vpat_id = ?", vpatId)
	if result.Error != nil {
		slog.Error("sql error listing vpat versions", "vpat_id", vpatId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing vpat versions: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]versionInfo, 0, len(versions))
	for _, version := range versions {
		infos = append(infos, versionInfo{
			Id:            version.Id,
			VersionNumber: version.VersionNumber,
			PublishedBy:   version.PublishedBy,
			PublishedAt:   version.PublishedAt,
			Current:       report.CurrentVersionId != nil && *report.CurrentVersionId == version.Id,
		})
	}
	utils.WriteJsonResponse(w, infos)
}

func getVersionByNumber(txn *gorm.DB, vpatId uuid.UUID, number int) (schema.VpatVersion, error) {
	var version schema.VpatVersion
	result := txn.First(&version, "vpat_id = ? AND version_number = ?", vpatId, number)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return version, CodedError(schema.ErrVersionNotFound, http.StatusNotFound)
		}
		slog.Error("sql error in get vpat version by number", "vpat_id", vpatId, "version", number, "error", result.Error)
		return version, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return version, nil
}

// renderVersionMarkdown rebuilds the Markdown document from a published
// snapshot. The renderer is deterministic, so re-exporting an unchanged
// version yields byte-identical output.
func renderVersionMarkdown(report *schema.Vpat, version *schema.VpatVersion) (string, error) {
	var scope vpat.Scope
	if err := json.Unmarshal(version.WcagScope, &scope); err != nil {
		return "", fmt.Errorf("error decoding version scope: %w", err)
	}

	var rows []vpat.CriteriaRow
	if err := json.Unmarshal(version.CriteriaRows, &rows); err != nil {
		return "", fmt.Errorf("error decoding version rows: %w", err)
	}

	publishedAt := version.PublishedAt
	return vpat.ToMarkdown(vpat.Document{
		Title:         report.Title,
		VersionNumber: version.VersionNumber,
		PublishedAt:   &publishedAt,
		Scope:         scope,
		Rows:          rows,
	}), nil
}

const exportFormatMarkdown = "markdown"

// Export renders a published version into a downloadable document. The
// artifact is also written to storage and recorded on the version so repeated
// exports can be audited.
func (s *VpatService) Export(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	versionParam, err := utils.URLParam(r, "version_number")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	versionNumber, err := strconv.Atoi(versionParam)
	if err != nil || versionNumber < 1 {
		http.Error(w, fmt.Sprintf("invalid version number '%v'", versionParam), http.StatusBadRequest)
		return
	}

	format := strings.ToLower(utils.QueryParam(r, "format", exportFormatMarkdown))
	if format != exportFormatMarkdown {
		http.Error(w, fmt.Sprintf("export format '%v' is not implemented", format), http.StatusNotImplemented)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	report, err := getVpatForUser(s.db, vpatId, user, auth.ReadPermission)
	if err != nil {
		http.Error(w, fmt.Sprintf("error exporting vpat: %v", err), GetResponseCode(err))
		return
	}

	version, err := getVersionByNumber(s.db, vpatId, versionNumber)
	if err != nil {
		http.Error(w, fmt.Sprintf("error exporting vpat: %v", err), GetResponseCode(err))
		return
	}

	rendered, err := renderVersionMarkdown(&report, &version)
	if err != nil {
		slog.Error("error rendering vpat version", "vpat_id", vpatId, "version", versionNumber, "error", err)
		http.Error(w, "error rendering vpat export", http.StatusInternalServerError)
		return
	}

	artifactPath := storage.VpatExportPath(vpatId, versionNumber, "md")
	if err := s.storage.Write(artifactPath, strings.NewReader(rendered)); err != nil {
		slog.Error("error writing export artifact", "vpat_id", vpatId, "version", versionNumber, "error", err)
		http.Error(w, "error storing vpat export", http.StatusInternalServerError)
		return
	}

	artifacts := make(map[string]string)
	if len(version.ExportArtifacts) > 0 {
		if err := json.Unmarshal(version.ExportArtifacts, &artifacts); err != nil {
			artifacts = make(map[string]string)
		}
	}
	artifacts[format] = artifactPath
	result := s.db.Model(&schema.VpatVersion{Id: version.Id}).Update("export_artifacts", schema.JSONValue(artifacts))
	if result.Error != nil {
		slog.Error("sql error recording export artifact", "vpat_id", vpatId, "version", versionNumber, "error", result.Error)
	}

	vpatExports.WithLabelValues(format).Inc()
	slog.Info("exported vpat version", "code", logging.VPAT_EXPORT, "vpat_id", vpatId, "version", versionNumber, "format", format)

	filename := fmt.Sprintf("%v-v%d.md", vpat.Slugify(report.Title), versionNumber)
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := io.WriteString(w, rendered); err != nil {
		slog.Error("error streaming vpat export", "vpat_id", vpatId, "error", err)
	}
}

// ExportBundle zips every export artifact written for the vpat into a single
// archive download.
func (s *VpatService) ExportBundle(w http.ResponseWriter, r *http.Request) {
	vpatId, err := utils.URLParamUUID(r, "vpat_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	report, err := getVpatForUser(s.db, vpatId, user, auth.ReadPermission)
	if err != nil {
		http.Error(w, fmt.Sprintf("error bundling vpat exports: %v", err), GetResponseCode(err))
		return
	}

	exportDir := storage.VpatExportDir(vpatId)
	exists, err := s.storage.Exists(exportDir)
	if err != nil || !exists {
		http.Error(w, "no export artifacts found, export a version first", http.StatusNotFound)
		return
	}

	if err := s.storage.Zip(exportDir); err != nil {
		slog.Error("error zipping export artifacts", "vpat_id", vpatId, "error", err)
		http.Error(w, "error bundling vpat exports", http.StatusInternalServerError)
		return
	}

	reader, err := s.storage.Read(exportDir + ".zip")
	if err != nil {
		http.Error(w, "error reading export bundle", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	filename := fmt.Sprintf("%v-exports.zip", vpat.Slugify(report.Title))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := io.Copy(w, reader); err != nil {
		slog.Error("error streaming export bundle", "vpat_id", vpatId, "error", err)
	}
}
