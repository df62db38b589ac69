package versions

import (
	"log"

	"a11y_platform/assessment_hub/schema"

	"gorm.io/gorm"
)

// Migration_1_add_shares introduces public share links for published report
// versions and the export artifact record on versions. Deployments migrated
// from before shares existed get both in one step.
func Migration_1_add_shares(txn *gorm.DB) error {
	log.Println("running migration 1: add vpat shares and export artifacts")

	if !txn.Migrator().HasTable(&schema.VpatShare{}) {
		if err := txn.Migrator().CreateTable(&schema.VpatShare{}); err != nil {
			return err
		}
	}

	if !txn.Migrator().HasColumn(&schema.VpatVersion{}, "export_artifacts") {
		if err := txn.Migrator().AddColumn(&schema.VpatVersion{}, "ExportArtifacts"); err != nil {
			return err
		}
	}

	return nil
}
