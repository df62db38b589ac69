package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/schema"
	"a11y_platform/assessment_hub/vpat"
	"a11y_platform/utils"
	"a11y_platform/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *ProjectService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Get("/list", s.List)

	r.Route("/{project_id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectPermissionOnly(s.db, auth.ReadPermission))

			r.Get("/", s.Info)
			r.Get("/criteria-summary", s.CriteriaSummary)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectPermissionOnly(s.db, auth.WritePermission))

			r.Post("/update", s.Update)
			r.Post("/assessments/{assessment_id}", s.LinkAssessment)
			r.Delete("/assessments/{assessment_id}", s.UnlinkAssessment)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectPermissionOnly(s.db, auth.OwnerPermission))

			r.Delete("/", s.Delete)
			r.Post("/access", s.UpdateAccess)
		})
	})

	return r
}

type projectRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type createProjectResponse struct {
	ProjectId uuid.UUID `json:"project_id"`
}

func (s *ProjectService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params projectRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "project name must be specified", http.StatusBadRequest)
		return
	}

	project := schema.Project{
		Id:                uuid.New(),
		Name:              params.Name,
		Description:       params.Description,
		Tags:              schema.JSONValue(params.Tags),
		Access:            schema.Private,
		DefaultPermission: schema.ReadPerm,
		UserId:            user.Id,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkForDuplicateProject(txn, params.Name, user.Id); err != nil {
			return err
		}

		result := txn.Create(&project)
		if result.Error != nil {
			slog.Error("sql error creating new project", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating project: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("created project", "code", logging.PROJECT_SAVE, "project_id", project.Id, "user_id", user.Id)

	utils.WriteJsonResponse(w, createProjectResponse{ProjectId: project.Id})
}

type ProjectInfo struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Access      string    `json:"access"`
	OwnerId     uuid.UUID `json:"owner_id"`
	Owner       string    `json:"owner,omitempty"`
	TeamId      *uuid.UUID `json:"team_id,omitempty"`
}

func convertToProjectInfo(project *schema.Project) ProjectInfo {
	info := ProjectInfo{
		Id:          project.Id,
		Name:        project.Name,
		Description: project.Description,
		Tags:        schema.StringsFromJSON(project.Tags),
		Access:      project.Access,
		OwnerId:     project.UserId,
		TeamId:      project.TeamId,
	}
	if project.User != nil {
		info.Owner = project.User.Username
	}
	return info
}

func (s *ProjectService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var projects []schema.Project
	var result *gorm.DB
	if user.IsAdmin {
		result = s.db.Preload("User").Find(&projects)
	} else {
		userTeams, err := schema.GetUserTeamIds(user.Id, s.db)
		if err != nil {
			http.Error(w, "error loading user teams", http.StatusInternalServerError)
			return
		}
		result = s.db.Preload("User").
			Where("user_id = ?", user.Id).
			Or("access = ?", schema.Public).
			Or("access = ? AND team_id IN ?", schema.Protected, userTeams).
			Find(&projects)
	}

	if result.Error != nil {
		slog.Error("sql error listing projects", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing projects: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ProjectInfo, 0, len(projects))
	for _, project := range projects {
		infos = append(infos, convertToProjectInfo(&project))
	}
	utils.WriteJsonResponse(w, infos)
}

type AssessmentSummary struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	WcagVersion string    `json:"wcag_version"`
}

type projectDetailResponse struct {
	ProjectInfo
	Assessments []AssessmentSummary `json:"assessments"`
}

func (s *ProjectService) Info(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	project, err := schema.GetProject(projectId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting project: %v", err), http.StatusInternalServerError)
		return
	}

	res := projectDetailResponse{
		ProjectInfo: convertToProjectInfo(&project),
		Assessments: make([]AssessmentSummary, 0, len(project.Assessments)),
	}
	for _, assessment := range project.Assessments {
		res.Assessments = append(res.Assessments, AssessmentSummary{
			Id: assessment.Id, Name: assessment.Name, WcagVersion: assessment.WcagVersion,
		})
	}

	utils.WriteJsonResponse(w, res)
}

func (s *ProjectService) Update(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params projectRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		project, err := schema.GetProject(projectId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != "" {
			project.Name = params.Name
		}
		project.Description = params.Description
		if params.Tags != nil {
			project.Tags = schema.JSONValue(params.Tags)
		}

		result := txn.Save(&project)
		if result.Error != nil {
			slog.Error("sql error updating project", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating project: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("updated project", "code", logging.PROJECT_SAVE, "project_id", projectId)

	utils.WriteSuccess(w)
}

type updateAccessRequest struct {
	Access            string     `json:"access"`
	DefaultPermission string     `json:"default_permission"`
	TeamId            *uuid.UUID `json:"team_id"`
}

func (s *ProjectService) UpdateAccess(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateAccessRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Access != schema.Private && params.Access != schema.Protected && params.Access != schema.Public {
		http.Error(w, fmt.Sprintf("invalid access level '%v'", params.Access), http.StatusUnprocessableEntity)
		return
	}
	if params.DefaultPermission != schema.ReadPerm && params.DefaultPermission != schema.WritePerm {
		http.Error(w, fmt.Sprintf("invalid default permission '%v'", params.DefaultPermission), http.StatusUnprocessableEntity)
		return
	}
	if params.Access == schema.Protected && params.TeamId == nil {
		http.Error(w, "team_id must be specified for protected access", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		project, err := schema.GetProject(projectId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.TeamId != nil {
			if err := checkTeamExists(txn, *params.TeamId); err != nil {
				return err
			}
		}

		project.Access = params.Access
		project.DefaultPermission = params.DefaultPermission
		project.TeamId = params.TeamId

		result := txn.Save(&project)
		if result.Error != nil {
			slog.Error("sql error updating project access", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating project access: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ProjectService) Delete(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkProjectExists(txn, projectId); err != nil {
			return err
		}

		result := txn.Select("Vpats").Delete(&schema.Project{Id: projectId})
		if result.Error != nil {
			slog.Error("sql error deleting project", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting project: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ProjectService) LinkAssessment(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkProjectExists(txn, projectId); err != nil {
			return err
		}
		if err := checkAssessmentExists(txn, assessmentId); err != nil {
			return err
		}

		result := txn.Save(&schema.ProjectAssessment{ProjectId: projectId, AssessmentId: assessmentId})
		if result.Error != nil {
			slog.Error("sql error linking assessment to project", "project_id", projectId, "assessment_id", assessmentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error linking assessment: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ProjectService) UnlinkAssessment(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	assessmentId, err := utils.URLParamUUID(r, "assessment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := s.db.Delete(&schema.ProjectAssessment{ProjectId: projectId, AssessmentId: assessmentId})
	if result.Error != nil {
		slog.Error("sql error unlinking assessment from project", "project_id", projectId, "assessment_id", assessmentId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error unlinking assessment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

type criteriaSummaryResponse struct {
	Criteria map[string]vpat.CriterionIssues `json:"criteria"`
}

// CriteriaSummary reports, for every WCAG criterion referenced by the
// project's open issues, how many issues affect it and which ones.
func (s *ProjectService) CriteriaSummary(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	issues, err := loadProjectIssues(s.db, projectId, user.Id)
	if err != nil {
		http.Error(w, fmt.Sprintf("error aggregating project issues: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, criteriaSummaryResponse{Criteria: vpat.Aggregate(issues)})
}
