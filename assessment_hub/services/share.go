package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/schema"
	"a11y_platform/assessment_hub/vpat"
	"a11y_platform/utils"
	"a11y_platform/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type ShareService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

// Routes are the authenticated share management endpoints. The public read
// endpoint is mounted separately without auth middleware.
func (s *ShareService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.Create)
	r.Post("/{share_id}/revoke", s.Revoke)

	return r
}

func (s *ShareService) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{share_id}", s.Read)
	return r
}

// getVersionForShare resolves a version id to its version and owning vpat,
// checking the caller holds the required project permission.
func getVersionForShare(txn *gorm.DB, versionId uuid.UUID, user schema.User, required auth.ProjectPermission) (schema.VpatVersion, schema.Vpat, error) {
	version, err := schema.GetVpatVersion(versionId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrVersionNotFound) {
			return version, schema.Vpat{}, CodedError(err, http.StatusNotFound)
		}
		return version, schema.Vpat{}, CodedError(err, http.StatusInternalServerError)
	}

	report, err := getVpatForUser(txn, version.VpatId, user, required)
	if err != nil {
		return version, report, err
	}

	return version, report, nil
}

type createShareRequest struct {
	VersionId      uuid.UUID `json:"version_id"`
	Visibility     string    `json:"visibility"`
	Password       string    `json:"password"`
	ShowIssueLinks *bool     `json:"show_issue_links"`
}

type createShareResponse struct {
	ShareId uuid.UUID `json:"share_id"`
}

func (s *ShareService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createShareRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidShareVisibility(params.Visibility); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if params.Visibility == schema.SharePassword && params.Password == "" {
		http.Error(w, "a password must be provided for password protected shares", http.StatusUnprocessableEntity)
		return
	}

	share := schema.VpatShare{
		Id:             uuid.New(),
		VersionId:      params.VersionId,
		Visibility:     params.Visibility,
		ShowIssueLinks: true,
		CreatedBy:      user.Id,
	}
	if params.ShowIssueLinks != nil {
		share.ShowIssueLinks = *params.ShowIssueLinks
	}

	if params.Visibility == schema.SharePassword {
		hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), 10)
		if err != nil {
			slog.Error("error hashing share password", "error", err)
			http.Error(w, "error creating share", http.StatusInternalServerError)
			return
		}
		share.PasswordHash = hash
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, _, err := getVersionForShare(txn, params.VersionId, user, auth.OwnerPermission); err != nil {
			return err
		}

		result := txn.Create(&share)
		if result.Error != nil {
			slog.Error("sql error creating share", "version_id", params.VersionId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating share: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("created share", "code", logging.VPAT_SHARE, "share_id", share.Id, "version_id", params.VersionId, "visibility", params.Visibility)

	utils.WriteJsonResponse(w, createShareResponse{ShareId: share.Id})
}

func (s *ShareService) Revoke(w http.ResponseWriter, r *http.Request) {
	shareId, err := utils.URLParamUUID(r, "share_id")
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
		share, err := schema.GetVpatShare(shareId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrShareNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if _, _, err := getVersionForShare(txn, share.VersionId, user, auth.OwnerPermission); err != nil {
			return err
		}

		result := txn.Model(&schema.VpatShare{Id: shareId}).Update("revoked", true)
		if result.Error != nil {
			slog.Error("sql error revoking share", "share_id", shareId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error revoking share: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("revoked share", "code", logging.VPAT_SHARE, "share_id", shareId)

	utils.WriteSuccess(w)
}

type sharedReportResponse struct {
	Title         string             `json:"title"`
	VersionNumber int                `json:"version_number"`
	PublishedAt   time.Time          `json:"published_at"`
	Scope         vpat.Scope         `json:"scope"`
	Rows          []vpat.CriteriaRow `json:"rows"`
	Markdown      string             `json:"markdown"`
}

// Read serves a shared report to anonymous visitors. A revoked or private
// share reads as not found so the link leaks nothing about its existence.
func (s *ShareService) Read(w http.ResponseWriter, r *http.Request) {
	shareId, err := utils.URLParamUUID(r, "share_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	share, err := schema.GetVpatShare(shareId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrShareNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "error reading share", http.StatusInternalServerError)
		return
	}

	if share.Revoked || share.Visibility == schema.SharePrivate {
		http.Error(w, schema.ErrShareNotFound.Error(), http.StatusNotFound)
		return
	}

	if share.Visibility == schema.SharePassword {
		password := utils.QueryParam(r, "password", "")
		if password == "" {
			http.Error(w, "this share requires a password", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(share.PasswordHash, []byte(password)); err != nil {
			http.Error(w, "incorrect password", http.StatusUnauthorized)
			return
		}
	}

	version, err := schema.GetVpatVersion(share.VersionId, s.db)
	if err != nil {
		http.Error(w, "error reading shared report", http.StatusInternalServerError)
		return
	}

	report, err := schema.GetVpat(version.VpatId, s.db, false)
	if err != nil {
		http.Error(w, "error reading shared report", http.StatusInternalServerError)
		return
	}

	var scope vpat.Scope
	if err := json.Unmarshal(version.WcagScope, &scope); err != nil {
		http.Error(w, "error reading shared report", http.StatusInternalServerError)
		return
	}
	var rows []vpat.CriteriaRow
	if err := json.Unmarshal(version.CriteriaRows, &rows); err != nil {
		http.Error(w, "error reading shared report", http.StatusInternalServerError)
		return
	}

	// Redaction strips issue titles along with urls. Conformance and remarks
	// still carry the substance of the row.
	if !share.ShowIssueLinks {
		for i := range rows {
			rows[i].Issues = nil
		}
	}

	publishedAt := version.PublishedAt
	rendered := vpat.ToMarkdown(vpat.Document{
		Title:         report.Title,
		VersionNumber: version.VersionNumber,
		PublishedAt:   &publishedAt,
		Scope:         scope,
		Rows:          rows,
	})

	shareReads.Inc()

	utils.WriteJsonResponse(w, sharedReportResponse{
		Title:         report.Title,
		VersionNumber: version.VersionNumber,
		PublishedAt:   version.PublishedAt,
		Scope:         scope,
		Rows:          rows,
		Markdown:      rendered,
	})
}
