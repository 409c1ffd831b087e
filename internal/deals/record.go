package deals

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawDeal is one element of the remote searchReportWoodDeal content list.
// Volumes arrive as JSON numbers (occasionally quoted); null decodes as zero.
type RawDeal struct {
	SellerName       string          `json:"sellerName"`
	SellerInn        string          `json:"sellerInn"`
	BuyerName        string          `json:"buyerName"`
	BuyerInn         string          `json:"buyerInn"`
	WoodVolumeBuyer  decimal.Decimal `json:"woodVolumeBuyer"`
	WoodVolumeSeller decimal.Decimal `json:"woodVolumeSeller"`
	DealDate         string          `json:"dealDate"`
	DealNumber       string          `json:"dealNumber"`
}

var dealDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02.01.2006",
}

// ToDeal builds a Deal with id-less party references.
func (r RawDeal) ToDeal() (Deal, error) {
	if strings.TrimSpace(r.DealNumber) == "" {
		return Deal{}, fmt.Errorf("%w: dealNumber is empty", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.SellerName) == "" {
		return Deal{}, fmt.Errorf("%w: deal %s has no sellerName", ErrInvalidRecord, r.DealNumber)
	}
	if strings.TrimSpace(r.BuyerName) == "" {
		return Deal{}, fmt.Errorf("%w: deal %s has no buyerName", ErrInvalidRecord, r.DealNumber)
	}
	date, err := ParseDealDate(r.DealDate)
	if err != nil {
		return Deal{}, fmt.Errorf("%w: deal %s: %v", ErrInvalidRecord, r.DealNumber, err)
	}
	return Deal{
		Number:       r.DealNumber,
		Date:         date,
		VolumeBuyer:  r.WoodVolumeBuyer,
		VolumeSeller: r.WoodVolumeSeller,
		Seller:       Party{Name: r.SellerName, TaxID: r.SellerInn},
		Buyer:        Party{Name: r.BuyerName, TaxID: r.BuyerInn},
	}, nil
}

func ParseDealDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("dealDate is empty")
	}
	for _, layout := range dealDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return CalendarDay(parsed), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized dealDate %q", raw)
}
