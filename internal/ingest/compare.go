package ingest

import "github.com/agentworkforce/dealsync/internal/deals"

// SameDeal reports whether the stored deal already reflects the incoming one.
// Volumes compare numerically, dates by calendar day, and both parties by
// name and tax id. Party ids are ignored: the incoming side has none yet.
func SameDeal(stored, incoming deals.Deal) bool {
	return stored.Number == incoming.Number &&
		deals.CalendarDay(stored.Date).Equal(deals.CalendarDay(incoming.Date)) &&
		stored.VolumeBuyer.Equal(incoming.VolumeBuyer) &&
		stored.VolumeSeller.Equal(incoming.VolumeSeller) &&
		sameParty(stored.Seller, incoming.Seller) &&
		sameParty(stored.Buyer, incoming.Buyer)
}

func sameParty(stored, incoming deals.Party) bool {
	return stored.Name == incoming.Name && stored.TaxID == incoming.TaxID
}

// sameRow reports whether the stored deal row already holds resolved. Parties
// compare by id, so a name that only matched the store under its collation
// (case, trailing spaces) does not count as a change.
func sameRow(stored, resolved deals.Deal) bool {
	return stored.Number == resolved.Number &&
		deals.CalendarDay(stored.Date).Equal(deals.CalendarDay(resolved.Date)) &&
		stored.VolumeBuyer.Equal(resolved.VolumeBuyer) &&
		stored.VolumeSeller.Equal(resolved.VolumeSeller) &&
		stored.Seller.ID == resolved.Seller.ID &&
		stored.Buyer.ID == resolved.Buyer.ID
}
