package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"gorm.io/gorm"
)

func createCandidatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_grant_candidates",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CandidateModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_grant_candidates_designated ON grant_candidates (subject_id) WHERE designated`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CandidateModel{})
		},
	}
}
