package schema

import (
	"fmt"
	"slices"
	"time"

	"a11y_platform/assessment_hub/wcag"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	VpatDraft     = "draft"
	VpatPublished = "published"
)

func CheckValidVpatStatus(status string) error {
	if status != VpatDraft && status != VpatPublished {
		return fmt.Errorf("invalid vpat status '%v'", status)
	}
	return nil
}

const (
	IssueOpen     = "open"
	IssueClosed   = "closed"
	IssueArchived = "archive"
)

func CheckValidIssueStatus(status string) error {
	if status != IssueOpen && status != IssueClosed && status != IssueArchived {
		return fmt.Errorf("invalid issue status '%v', must be '%v', '%v', or '%v'", status, IssueOpen, IssueClosed, IssueArchived)
	}
	return nil
}

// Severities are stored as strings "1" (critical) through "4" (low), lower
// value means more severe.
const (
	SeverityCritical = "1"
	SeverityHigh     = "2"
	SeverityMedium   = "3"
	SeverityLow      = "4"
)

func CheckValidSeverity(severity string) error {
	switch severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return nil
	}
	return fmt.Errorf("invalid severity '%v', must be '1', '2', '3', or '4'", severity)
}

const (
	Private   = "private"
	Protected = "protected"
	Public    = "public"

	ReadPerm  = "read"
	WritePerm = "write"
)

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"unique;size:50;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	IsAdmin bool `gorm:"not null;default:false"`

	Projects []Project
	Teams    []UserTeam `gorm:"constraint:OnDelete:CASCADE"`
}

type Team struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"unique;size:100;not null"`
}

type UserTeam struct {
	UserId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	TeamId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	IsTeamAdmin bool      `gorm:"not null;default:false"`

	User *User `gorm:"constraint:OnDelete:CASCADE"`
	Team *Team `gorm:"constraint:OnDelete:CASCADE"`
}

type Project struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"size:100;not null"`
	Description string
	Tags        datatypes.JSON

	Access            string `gorm:"size:100;not null;default:'private'"`
	DefaultPermission string `gorm:"size:100;not null;default:'read'"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User

	TeamId *uuid.UUID `gorm:"type:uuid"`
	Team   *Team      `gorm:"constraint:OnDelete:SET NULL"`

	CreatedAt time.Time

	Assessments []Assessment `gorm:"many2many:project_assessments;"`
	Vpats       []Vpat       `gorm:"constraint:OnDelete:CASCADE"`
}

type Assessment struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"size:100;not null"`
	WcagVersion string `gorm:"size:10;not null"`
	Tags        datatypes.JSON

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User

	CreatedAt time.Time

	Issues  []Issue  `gorm:"many2many:assessment_issues;"`
	Reports []Report `gorm:"constraint:OnDelete:CASCADE"`
}

// Report is a saved point-in-time summary of an assessment. Stats holds the
// derived severity/WCAG breakdown and may be null if computing it failed at
// save time; the save itself is never blocked by that.
type Report struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	AssessmentId uuid.UUID `gorm:"type:uuid;index;not null"`

	Name  string `gorm:"size:100;not null"`
	Stats datatypes.JSON

	CreatedBy uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt time.Time
}

type Issue struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Title       string `gorm:"size:200;not null"`
	Description string

	Severity string `gorm:"size:10;not null"`
	Status   string `gorm:"size:20;not null;default:'open'"`

	Url         string
	Selector    string
	CodeSnippet string
	Screenshots datatypes.JSON
	Tags        datatypes.JSON

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User

	CreatedAt time.Time

	Criteria []IssueCriterion `gorm:"constraint:OnDelete:CASCADE"`
}

// IssueCriterion links an issue to a WCAG success criterion. Codes reference
// the embedded criteria table, not a db row.
type IssueCriterion struct {
	IssueId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code    string    `gorm:"size:16;primaryKey"`
}

// CriteriaCodes returns the deduplicated criterion codes of the issue in
// code order.
func (i *Issue) CriteriaCodes() []string {
	codes := make([]string, 0, len(i.Criteria))
	for _, c := range i.Criteria {
		if !slices.Contains(codes, c.Code) {
			codes = append(codes, c.Code)
		}
	}
	slices.SortFunc(codes, wcag.CompareCodes)
	return codes
}

type AssessmentIssue struct {
	AssessmentId uuid.UUID `gorm:"type:uuid;primaryKey"`
	IssueId      uuid.UUID `gorm:"type:uuid;primaryKey"`
}

type ProjectAssessment struct {
	ProjectId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	AssessmentId uuid.UUID `gorm:"type:uuid;primaryKey"`
}

type Vpat struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId uuid.UUID `gorm:"type:uuid;index;not null"`

	Title       string `gorm:"size:200;not null"`
	Description string

	Status string `gorm:"size:20;not null;default:'draft'"`

	// Scope of the report: which WCAG versions and levels are covered.
	WcagVersions datatypes.JSON `gorm:"not null"`
	Levels       datatypes.JSON `gorm:"not null"`

	// Non-null exactly while Status is 'published'.
	CurrentVersionId *uuid.UUID `gorm:"type:uuid"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt time.Time

	Rows     []VpatRowDraft `gorm:"constraint:OnDelete:CASCADE"`
	Versions []VpatVersion  `gorm:"constraint:OnDelete:CASCADE"`
}

// VpatRowDraft is the single mutable row for a (vpat, criterion) pair.
// Nullable fields distinguish "cleared" from "never set" payloads after
// normalization in the upsert path.
type VpatRowDraft struct {
	VpatId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code   string    `gorm:"size:16;primaryKey"`

	Conformance *string `gorm:"size:50"`
	Remarks     *string

	RelatedIssueIds  datatypes.JSON
	RelatedIssueUrls datatypes.JSON

	LastGeneratedAt *time.Time
	LastEditedBy    *uuid.UUID `gorm:"type:uuid"`

	UpdatedAt time.Time
}

// VpatVersion is an immutable publish snapshot. CriteriaRows carries a deep
// copy of every in-scope criterion joined with its draft row at publish
// time; nothing references live drafts or issues.
type VpatVersion struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	VpatId        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_vpat_version_number"`
	VersionNumber int       `gorm:"not null;uniqueIndex:idx_vpat_version_number"`

	PublishedBy uuid.UUID `gorm:"type:uuid;not null"`
	PublishedAt time.Time

	WcagScope    datatypes.JSON `gorm:"not null"`
	CriteriaRows datatypes.JSON `gorm:"not null"`

	ExportArtifacts datatypes.JSON
}

const (
	SharePrivate  = "private"
	SharePublic   = "public"
	SharePassword = "password"
)

func CheckValidShareVisibility(visibility string) error {
	if visibility != SharePrivate && visibility != SharePublic && visibility != SharePassword {
		return fmt.Errorf("invalid share visibility '%v'", visibility)
	}
	return nil
}

type VpatShare struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	VersionId uuid.UUID `gorm:"type:uuid;index;not null"`

	Visibility   string `gorm:"size:20;not null;default:'private'"`
	PasswordHash []byte

	ShowIssueLinks bool `gorm:"not null;default:true"`
	Revoked        bool `gorm:"not null;default:false"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt time.Time
}

// Tables lists every entity for migration, in dependency order.
func Tables() []interface{} {
	return []interface{}{
		&User{}, &Team{}, &UserTeam{},
		&Project{}, &Assessment{}, &ProjectAssessment{},
		&Issue{}, &IssueCriterion{}, &AssessmentIssue{}, &Report{},
		&Vpat{}, &VpatRowDraft{}, &VpatVersion{}, &VpatShare{},
	}
}
