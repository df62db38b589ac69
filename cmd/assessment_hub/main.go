package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"a11y_platform/assessment_hub/auth"
	"a11y_platform/assessment_hub/drafting"
	"a11y_platform/assessment_hub/schema"
	"a11y_platform/assessment_hub/services"
	"a11y_platform/assessment_hub/storage"
	"a11y_platform/utils/logging"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type assessmentHubEnv struct {
	PublicHostname string `env:"PUBLIC_HOSTNAME,required"`
	ShareDir       string `env:"SHARE_DIR,required"`
	JwtSecret      string `env:"JWT_SECRET,required"`
	DatabaseUri    string `env:"DATABASE_URI,required"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AdminUsername string `env:"ADMIN_USERNAME,required"`
	AdminEmail    string `env:"ADMIN_MAIL,required"`
	AdminPassword string `env:"ADMIN_PASSWORD,required"`

	IdentityProvider      string `env:"IDENTITY_PROVIDER" envDefault:"basic"`
	KeycloakServerUrl     string `env:"KEYCLOAK_SERVER_URL"`
	KeycloakAdminUsername string `env:"KEYCLOAK_ADMIN_USER"`
	KeycloakAdminPassword string `env:"KEYCLOAK_ADMIN_PASSWORD"`
	UseSslInLogin         bool   `env:"USE_SSL_IN_LOGIN"`
	SslCertPath           string `env:"SSL_CERT_PATH"`
	SslKeyPath            string `env:"SSL_KEY_PATH"`

	DraftProvider string `env:"DRAFT_PROVIDER"`
	DraftApiKey   string `env:"DRAFT_API_KEY"`
	DraftModel    string `env:"DRAFT_MODEL"`
}

func loadEnv(envFile string) assessmentHubEnv {
	if envFile != "" {
		slog.Info(fmt.Sprintf("loading env from file %v", envFile))
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", envFile, err)
		}
	}

	var cfg assessmentHubEnv
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing environment: %v", err)
	}
	return cfg
}

func postgresDsn(uri string) string {
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initDb(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	if err := db.AutoMigrate(schema.Tables()...); err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

func getHostname(u string) string {
	parts, err := url.Parse(u)
	if err != nil {
		log.Fatalf("error parsing url '%v': %v", u, err)
	}
	return parts.Hostname()
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")
	flag.Parse()

	cfg := loadEnv(*envFile)

	if err := os.MkdirAll(filepath.Join(cfg.ShareDir, "logs/"), 0777); err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.ShareDir, "logs/assessment_hub.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	auditLog, err := os.OpenFile(filepath.Join(cfg.ShareDir, "logs/audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening audit log file: %v", err)
	}
	defer auditLog.Close()

	logging.Setup(io.MultiWriter(logFile, os.Stderr), cfg.LogLevel)

	db := initDb(postgresDsn(cfg.DatabaseUri))

	sharedStorage := storage.NewSharedDisk(cfg.ShareDir)

	var identityProvider auth.IdentityProvider
	if cfg.IdentityProvider == "keycloak" {
		identityProvider, err = auth.NewKeycloakIdentityProvider(
			db,
			auth.NewAuditLogger(auditLog),
			auth.KeycloakArgs{
				KeycloakServerUrl:     cfg.KeycloakServerUrl,
				KeycloakAdminUsername: cfg.KeycloakAdminUsername,
				KeycloakAdminPassword: cfg.KeycloakAdminPassword,
				AdminUsername:         cfg.AdminUsername,
				AdminEmail:            cfg.AdminEmail,
				AdminPassword:         cfg.AdminPassword,
				PublicHostname:        getHostname(cfg.PublicHostname),
				PrivateHostname:       getHostname(cfg.PublicHostname),
				SslLogin:              cfg.UseSslInLogin,
				SslCertPath:           cfg.SslCertPath,
				SslKeyPath:            cfg.SslKeyPath,
			},
		)
		if err != nil {
			log.Fatalf("error creating keycloak identity provider: %v", err)
		}
	} else {
		identityProvider, err = auth.NewBasicIdentityProvider(
			db,
			auth.NewAuditLogger(auditLog),
			auth.BasicProviderArgs{
				Secret:        []byte(cfg.JwtSecret),
				AdminUsername: cfg.AdminUsername,
				AdminEmail:    cfg.AdminEmail,
				AdminPassword: cfg.AdminPassword,
			},
		)
		if err != nil {
			log.Fatalf("error creating basic identity provider: %v", err)
		}
	}

	drafter, err := drafting.NewDrafter(cfg.DraftProvider, cfg.DraftApiKey, cfg.DraftModel)
	if err != nil {
		log.Fatalf("error creating issue drafter: %v", err)
	}

	hub := services.NewAssessmentHub(db, sharedStorage, identityProvider, drafter)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.PublicHostname},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", hub.Routes())

	slog.Info("starting server", "port", *port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), r); err != nil {
		log.Fatalf("listen and serve returned error: %v", err.Error())
	}
}
