package domain

import "time"

// QuotaAccount is the ledger entry of one quota owner.
type QuotaAccount struct {
	OwnerID            string
	Available          int
	ConsumedThisPeriod int
	UpdatedAt          time.Time
}

// ReservationStatus tracks a single reserved quota unit.
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

func (s ReservationStatus) String() string { return string(s) }

// Reservation is one quota unit taken from an owner but not yet committed.
type Reservation struct {
	Token     string
	OwnerID   string
	Status    ReservationStatus
	CreatedAt time.Time
}

// QuotaHolder is implemented by every partner variant that owns a token pool.
type QuotaHolder interface {
	QuotaOwnerID() string
	QuotaAllowance() int
}
