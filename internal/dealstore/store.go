package dealstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentworkforce/dealsync/internal/deals"
)

var ErrNotFound = errors.New("not found")

// Store persists parties and deals. Every method is its own unit of work;
// there are no transactions spanning calls. Lookups return (nil, nil) when
// nothing matches the natural key. Failures are *deals.PersistenceError.
type Store interface {
	FindDealByNumber(ctx context.Context, number string) (*deals.Deal, error)
	FindPartyByName(ctx context.Context, role deals.Role, name string) (*deals.Party, error)
	InsertParty(ctx context.Context, role deals.Role, name, taxID string) (int64, error)
	UpdatePartyTaxID(ctx context.Context, role deals.Role, id int64, taxID string) error
	// InsertDeal and UpdateDeal expect deal.Seller.ID and deal.Buyer.ID to be resolved.
	InsertDeal(ctx context.Context, deal deals.Deal) error
	UpdateDeal(ctx context.Context, deal deals.Deal) error
	Close() error
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *deals.PersistenceError
	if errors.As(err, &already) {
		return err
	}
	return &deals.PersistenceError{Op: op, Err: err}
}

func validateRole(role deals.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown party role %q", deals.ErrInvalidInput, role)
	}
	return nil
}

func validateResolvedDeal(deal deals.Deal) error {
	if deal.Number == "" {
		return fmt.Errorf("%w: deal number is empty", deals.ErrInvalidInput)
	}
	if !deal.Seller.Persisted() || !deal.Buyer.Persisted() {
		return fmt.Errorf("%w: deal %s has unresolved party ids (seller=%d buyer=%d)",
			deals.ErrInvalidInput, deal.Number, deal.Seller.ID, deal.Buyer.ID)
	}
	return nil
}
