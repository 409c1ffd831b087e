package deals

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

func (r Role) Valid() bool {
	return r == RoleSeller || r == RoleBuyer
}

func (r Role) String() string {
	return string(r)
}

// Party is a legal entity taking part in a deal. ID is zero until the store
// assigns one.
type Party struct {
	ID    int64
	Name  string
	TaxID string
}

func (p Party) Persisted() bool {
	return p.ID > 0
}

// Deal is one wood-trade transaction keyed by Number. Date always holds a
// calendar day at midnight UTC.
type Deal struct {
	Number       string
	Date         time.Time
	VolumeBuyer  decimal.Decimal
	VolumeSeller decimal.Decimal
	Seller       Party
	Buyer        Party
}

func (d Deal) Party(role Role) Party {
	if role == RoleBuyer {
		return d.Buyer
	}
	return d.Seller
}

// CalendarDay drops the time-of-day and location of t.
func CalendarDay(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
