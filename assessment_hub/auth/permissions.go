package auth

import (
	"errors"
	"fmt"
	"net/http"

	"a11y_platform/assessment_hub/schema"
	"a11y_platform/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func AdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin {
				http.Error(w, fmt.Sprintf("user %v is not an admin", user.Id), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func isTeamAdmin(teamId, userId uuid.UUID, db *gorm.DB) (bool, error) {
	userTeam, err := schema.GetUserTeam(teamId, userId, db)
	if err != nil {
		if errors.Is(err, schema.ErrUserTeamNotFound) {
			return false, nil
		}
		return false, err
	}

	return userTeam.IsTeamAdmin, nil
}

func AdminOrTeamAdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			teamId, err := utils.URLParamUUID(r, "team_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			isAdmin, err := isTeamAdmin(teamId, user.Id, db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin && !isAdmin {
				http.Error(w, "user must be admin or team admin to access endpoint", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func isTeamMember(teamId, userId uuid.UUID, db *gorm.DB) (bool, error) {
	_, err := schema.GetUserTeam(teamId, userId, db)
	if err != nil {
		if errors.Is(err, schema.ErrUserTeamNotFound) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func TeamMemberOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			teamId, err := utils.URLParamUUID(r, "team_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			isMember, err := isTeamMember(teamId, user.Id, db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin && !isMember {
				http.Error(w, "user must be team member to access endpoint", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

type ProjectPermission int

const (
	NoPermission    ProjectPermission = 0
	ReadPermission  ProjectPermission = 1
	WritePermission ProjectPermission = 2
	OwnerPermission ProjectPermission = 3
)

func projectPermissionToString(perm ProjectPermission) string {
	switch perm {
	case NoPermission:
		return "None"
	case ReadPermission:
		return "Read"
	case WritePermission:
		return "Write"
	case OwnerPermission:
		return "Owner"
	default:
		return "invalid permission"
	}
}

// GetProjectPermissions resolves the acting user's permission on a project.
// Owners and platform admins have full control, public projects grant their
// default permission to everyone, and protected projects grant it to team
// members only, with team admins treated as owners.
func GetProjectPermissions(projectId uuid.UUID, user schema.User, db *gorm.DB) (ProjectPermission, error) {
	if user.IsAdmin {
		return OwnerPermission, nil
	}

	project, err := schema.GetProject(projectId, db, false)
	if err != nil {
		return NoPermission, err
	}

	if project.UserId == user.Id {
		return OwnerPermission, nil
	}

	if project.Access == schema.Public {
		if project.DefaultPermission == schema.WritePerm {
			return WritePermission, nil
		}
		return ReadPermission, nil
	}

	if project.Access == schema.Protected && project.TeamId != nil {
		userTeam, err := schema.GetUserTeam(*project.TeamId, user.Id, db)
		if err != nil {
			if errors.Is(err, schema.ErrUserTeamNotFound) {
				return NoPermission, nil
			}
			return NoPermission, err
		}
		if userTeam.IsTeamAdmin {
			return OwnerPermission, nil
		}
		if project.DefaultPermission == schema.WritePerm {
			return WritePermission, nil
		}
		return ReadPermission, nil
	}

	return NoPermission, nil
}

func ProjectPermissionOnly(db *gorm.DB, minPermission ProjectPermission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			projectId, err := utils.URLParamUUID(r, "project_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			permission, err := GetProjectPermissions(projectId, user, db)
			if err != nil {
				if errors.Is(err, schema.ErrProjectNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if permission >= minPermission {
				next.ServeHTTP(w, r)
				return
			}

			required, actual := projectPermissionToString(minPermission), projectPermissionToString(permission)
			http.Error(w, fmt.Sprintf("user %v does not have required permission for project %v (required=%v, actual=%v)", user.Id, projectId, required, actual), http.StatusForbidden)
		}
		return http.HandlerFunc(hfn)
	}
}
