package repository

import (
	"time"

	"github.com/kursadbilgin/grant-engine/internal/domain"
)

// GrantModel is the persistence model for the grants table.
type GrantModel struct {
	ID            string             `gorm:"type:uuid;primaryKey"`
	SubjectType   domain.SubjectType `gorm:"type:varchar(32);not null"`
	SubjectID     string             `gorm:"type:varchar(64);not null"`
	GranteeID     string             `gorm:"type:varchar(64);not null"`
	IssuerID      *string            `gorm:"type:varchar(64)"`
	State         domain.State       `gorm:"type:varchar(16);not null"`
	AttemptNumber int                `gorm:"not null"`
	MaxAttempts   int                `gorm:"not null"`
	IssuedAt      time.Time          `gorm:"type:timestamptz;not null"`
	ExpiresAt     time.Time          `gorm:"type:timestamptz;not null"`
	ConfirmedAt   *time.Time         `gorm:"type:timestamptz"`
	ExpiredAt     *time.Time         `gorm:"type:timestamptz"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (GrantModel) TableName() string {
	return "grants"
}

// SubjectModel is the persistence model for grant_subjects.
type SubjectModel struct {
	ID          string               `gorm:"type:varchar(64);primaryKey"`
	Type        domain.SubjectType   `gorm:"type:varchar(32);not null"`
	IssuerID    *string              `gorm:"type:varchar(64)"`
	Status      domain.SubjectStatus `gorm:"type:varchar(16);not null"`
	Attempts    int                  `gorm:"not null;default:0"`
	MaxAttempts int                  `gorm:"not null"`
	TTLMillis   int64                `gorm:"column:ttl_ms;not null"`
	Version     int64                `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SubjectModel) TableName() string {
	return "grant_subjects"
}

// QuotaAccountModel is the persistence model for quota_accounts.
type QuotaAccountModel struct {
	OwnerID            string `gorm:"type:varchar(64);primaryKey"`
	Available          int    `gorm:"not null;default:0"`
	ConsumedThisPeriod int    `gorm:"not null;default:0"`
	UpdatedAt          time.Time
}

func (QuotaAccountModel) TableName() string {
	return "quota_accounts"
}

// QuotaReservationModel is the persistence model for quota_reservations.
type QuotaReservationModel struct {
	Token     string                   `gorm:"type:uuid;primaryKey"`
	OwnerID   string                   `gorm:"type:varchar(64);not null"`
	Status    domain.ReservationStatus `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (QuotaReservationModel) TableName() string {
	return "quota_reservations"
}

// CandidateModel is one eligible grantee of a subject. A designated row marks
// the single end-user of a discount token.
type CandidateModel struct {
	SubjectID        string  `gorm:"type:varchar(64);primaryKey"`
	GranteeID        string  `gorm:"type:varchar(64);primaryKey"`
	EligibilityScore float64 `gorm:"not null;default:0"`
	Designated       bool    `gorm:"not null;default:false"`
	CreatedAt        time.Time
}

func (CandidateModel) TableName() string {
	return "grant_candidates"
}

func grantModelFromDomain(g *domain.Grant) *GrantModel {
	if g == nil {
		return nil
	}

	return &GrantModel{
		ID:            g.ID,
		SubjectType:   g.SubjectType,
		SubjectID:     g.SubjectID,
		GranteeID:     g.GranteeID,
		IssuerID:      g.IssuerID,
		State:         g.State,
		AttemptNumber: g.AttemptNumber,
		MaxAttempts:   g.MaxAttempts,
		IssuedAt:      g.IssuedAt,
		ExpiresAt:     g.ExpiresAt,
		ConfirmedAt:   g.ConfirmedAt,
		ExpiredAt:     g.ExpiredAt,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

func grantModelToDomain(m *GrantModel) *domain.Grant {
	if m == nil {
		return nil
	}

	return &domain.Grant{
		ID:            m.ID,
		SubjectType:   m.SubjectType,
		SubjectID:     m.SubjectID,
		GranteeID:     m.GranteeID,
		IssuerID:      m.IssuerID,
		State:         m.State,
		AttemptNumber: m.AttemptNumber,
		MaxAttempts:   m.MaxAttempts,
		IssuedAt:      m.IssuedAt,
		ExpiresAt:     m.ExpiresAt,
		ConfirmedAt:   m.ConfirmedAt,
		ExpiredAt:     m.ExpiredAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func subjectModelFromDomain(s *domain.Subject) *SubjectModel {
	if s == nil {
		return nil
	}

	return &SubjectModel{
		ID:          s.ID,
		Type:        s.Type,
		IssuerID:    s.IssuerID,
		Status:      s.Status,
		Attempts:    s.Attempts,
		MaxAttempts: s.MaxAttempts,
		TTLMillis:   s.TTL.Milliseconds(),
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func subjectModelToDomain(m *SubjectModel) *domain.Subject {
	if m == nil {
		return nil
	}

	return &domain.Subject{
		ID:          m.ID,
		Type:        m.Type,
		IssuerID:    m.IssuerID,
		Status:      m.Status,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		TTL:         time.Duration(m.TTLMillis) * time.Millisecond,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func quotaAccountModelToDomain(m *QuotaAccountModel) domain.QuotaAccount {
	return domain.QuotaAccount{
		OwnerID:            m.OwnerID,
		Available:          m.Available,
		ConsumedThisPeriod: m.ConsumedThisPeriod,
		UpdatedAt:          m.UpdatedAt,
	}
}

func reservationModelToDomain(m *QuotaReservationModel) domain.Reservation {
	return domain.Reservation{
		Token:     m.Token,
		OwnerID:   m.OwnerID,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}
