package schema

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrUserTeamNotFound   = errors.New("user team relationship not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrIssueNotFound      = errors.New("issue not found")
	ErrVpatNotFound       = errors.New("vpat not found")
	ErrVersionNotFound    = errors.New("vpat version not found")
	ErrShareNotFound      = errors.New("share not found")
	ErrDbAccessFailed     = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetTeam(teamId uuid.UUID, db *gorm.DB) (Team, error) {
	var team Team

	result := db.First(&team, "id = ?", teamId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return team, ErrTeamNotFound
		}
		slog.Error("sql error in get team", "team_id", teamId, "error", result.Error)
		return team, ErrDbAccessFailed
	}

	return team, nil
}

func GetUserTeam(teamId, userId uuid.UUID, db *gorm.DB) (UserTeam, error) {
	var team UserTeam
	result := db.First(&team, "team_id = ? and user_id = ?", teamId, userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return team, ErrUserTeamNotFound
		}
		slog.Error("sql error in get user team", "team_id", teamId, "user_id", userId, "error", result.Error)
		return team, ErrDbAccessFailed
	}

	return team, nil
}

func GetUserTeamIds(userId uuid.UUID, db *gorm.DB) ([]uuid.UUID, error) {
	var teams []UserTeam
	result := db.Find(&teams, "user_id = ?", userId)
	if result.Error != nil {
		slog.Error("sql error in get user team ids", "user_id", userId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	ids := make([]uuid.UUID, 0, len(teams))
	for _, team := range teams {
		ids = append(ids, team.TeamId)
	}
	return ids, nil
}

func GetProject(projectId uuid.UUID, db *gorm.DB, loadAssessments bool) (Project, error) {
	var project Project

	query := db
	if loadAssessments {
		query = query.Preload("Assessments")
	}
	result := query.First(&project, "id = ?", projectId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return project, ErrProjectNotFound
		}
		slog.Error("sql error in get project", "project_id", projectId, "error", result.Error)
		return project, ErrDbAccessFailed
	}

	return project, nil
}

func GetAssessment(assessmentId uuid.UUID, db *gorm.DB) (Assessment, error) {
	var assessment Assessment

	result := db.First(&assessment, "id = ?", assessmentId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return assessment, ErrAssessmentNotFound
		}
		slog.Error("sql error in get assessment", "assessment_id", assessmentId, "error", result.Error)
		return assessment, ErrDbAccessFailed
	}

	return assessment, nil
}

func GetIssue(issueId uuid.UUID, db *gorm.DB, loadCriteria bool) (Issue, error) {
	var issue Issue

	query := db
	if loadCriteria {
		query = query.Preload("Criteria")
	}
	result := query.First(&issue, "id = ?", issueId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return issue, ErrIssueNotFound
		}
		slog.Error("sql error in get issue", "issue_id", issueId, "error", result.Error)
		return issue, ErrDbAccessFailed
	}

	return issue, nil
}

func GetVpat(vpatId uuid.UUID, db *gorm.DB, loadRows bool) (Vpat, error) {
	var vpat Vpat

	query := db
	if loadRows {
		query = query.Preload("Rows")
	}
	result := query.First(&vpat, "id = ?", vpatId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return vpat, ErrVpatNotFound
		}
		slog.Error("sql error in get vpat", "vpat_id", vpatId, "error", result.Error)
		return vpat, ErrDbAccessFailed
	}

	return vpat, nil
}

func GetVpatVersion(versionId uuid.UUID, db *gorm.DB) (VpatVersion, error) {
	var version VpatVersion

	result := db.First(&version, "id = ?", versionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return version, ErrVersionNotFound
		}
		slog.Error("sql error in get vpat version", "version_id", versionId, "error", result.Error)
		return version, ErrDbAccessFailed
	}

	return version, nil
}

func GetVpatShare(shareId uuid.UUID, db *gorm.DB) (VpatShare, error) {
	var share VpatShare

	result := db.First(&share, "id = ?", shareId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return share, ErrShareNotFound
		}
		slog.Error("sql error in get vpat share", "share_id", shareId, "error", result.Error)
		return share, ErrDbAccessFailed
	}

	return share, nil
}

// JSONValue marshals a value into a JSON column. Marshal failures cannot
// happen for the slice/map types used in this schema, so they panic rather
// than propagate.
func JSONValue(value interface{}) datatypes.JSON {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return datatypes.JSON(data)
}

// StringsFromJSON decodes a JSON column holding a string array. A null
// column yields nil.
func StringsFromJSON(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		slog.Error("error decoding json string array column", "error", err)
		return nil
	}
	return values
}

// UUIDsFromJSON decodes a JSON column holding a uuid array. A null column
// yields nil.
func UUIDsFromJSON(data datatypes.JSON) []uuid.UUID {
	if len(data) == 0 {
		return nil
	}
	var values []uuid.UUID
	if err := json.Unmarshal(data, &values); err != nil {
		slog.Error("error decoding json uuid array column", "error", err)
		return nil
	}
	return values
}
