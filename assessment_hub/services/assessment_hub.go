package services

import (
	"log"
	"net/http"
	"os"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/drafting"
	"a11y_platform/assessment_hub/storage"
	"a11y_platform/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type AssessmentHub struct {
	user       UserService
	team       TeamService
	project    ProjectService
	assessment AssessmentService
	issue      IssueService
	vpat       VpatService
	share      ShareService

	db *gorm.DB
}

func NewAssessmentHub(
	db *gorm.DB, store storage.Storage, userAuth auth.IdentityProvider, drafter drafting.Drafter,
) AssessmentHub {
	return AssessmentHub{
		user:       UserService{db: db, userAuth: userAuth},
		team:       TeamService{db: db, userAuth: userAuth},
		project:    ProjectService{db: db, userAuth: userAuth},
		assessment: AssessmentService{db: db, userAuth: userAuth},
		issue: IssueService{
			db:       db,
			storage:  store,
			userAuth: userAuth,
			drafter:  drafter,
		},
		vpat: VpatService{
			db:       db,
			storage:  store,
			userAuth: userAuth,
		},
		share: ShareService{db: db, userAuth: userAuth},
		db:    db,
	}
}

func (h *AssessmentHub) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", h.user.Routes())
	r.Mount("/team", h.team.Routes())
	r.Mount("/project", h.project.Routes())
	r.Mount("/assessment", h.assessment.Routes())
	r.Mount("/issue", h.issue.Routes())
	r.Mount("/vpat", h.vpat.Routes())
	r.Mount("/share", h.share.Routes())

	// Anonymous access for shared report links.
	r.Mount("/shared", h.share.PublicRoutes())

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
