package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"gorm.io/gorm"
)

func createQuotaTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_quota_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.QuotaAccountModel{}, &repository.QuotaReservationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE quota_accounts ADD CONSTRAINT chk_quota_accounts_available CHECK (available >= 0)`,
				`CREATE INDEX IF NOT EXISTS idx_quota_reservations_owner_status ON quota_reservations (owner_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QuotaReservationModel{}, &repository.QuotaAccountModel{})
		},
	}
}
