package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"gorm.io/gorm"
)

func createGrantsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_grants",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.GrantModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				// at most one live offer per subject
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_one_offered_per_subject ON grants (subject_id) WHERE state = 'OFFERED'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_subject_attempt ON grants (subject_id, attempt_number)`,
				`CREATE INDEX IF NOT EXISTS idx_grants_offered_expiry ON grants (expires_at) WHERE state = 'OFFERED'`,
				`CREATE INDEX IF NOT EXISTS idx_grants_grantee ON grants (grantee_id, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.GrantModel{})
		},
	}
}
