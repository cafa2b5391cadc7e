package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"gorm.io/gorm"
)

func createSubjectsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_grant_subjects",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubjectModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE grant_subjects ADD CONSTRAINT chk_grant_subjects_attempts CHECK (attempts >= 0 AND attempts <= max_attempts)`,
				`CREATE INDEX IF NOT EXISTS idx_grant_subjects_issuer ON grant_subjects (issuer_id) WHERE issuer_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubjectModel{})
		},
	}
}
