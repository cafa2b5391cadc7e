package domain

// ClinicPartner is a clinic publishing shifts and discount offers.
type ClinicPartner struct {
	ID                  string
	Name                string
	MonthlyDiscountPool int
}

func (p ClinicPartner) QuotaOwnerID() string { return p.ID }
func (p ClinicPartner) QuotaAllowance() int  { return nonNegative(p.MonthlyDiscountPool) }

// PharmacyPartner issues product discount tokens.
type PharmacyPartner struct {
	ID              string
	Name            string
	AvailableTokens int
}

func (p PharmacyPartner) QuotaOwnerID() string { return p.ID }
func (p PharmacyPartner) QuotaAllowance() int  { return nonNegative(p.AvailableTokens) }

// ServicePartner issues service vouchers; a zero plan limit means a single courtesy token.
type ServicePartner struct {
	ID          string
	Name        string
	PlanLimit   int
	BonusTokens int
}

func (p ServicePartner) QuotaOwnerID() string { return p.ID }

func (p ServicePartner) QuotaAllowance() int {
	limit := p.PlanLimit
	if limit == 0 {
		limit = 1
	}
	return nonNegative(limit + p.BonusTokens)
}

var (
	_ QuotaHolder = ClinicPartner{}
	_ QuotaHolder = PharmacyPartner{}
	_ QuotaHolder = ServicePartner{}
)

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
