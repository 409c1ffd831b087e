package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/dealsync/internal/deals"
	"github.com/agentworkforce/dealsync/internal/dealstore"
)

type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeInserted
	OutcomeUpdated
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of reconciling one deal. Err is set only for
// OutcomeFailed and never needs to stop the caller.
type Result struct {
	Number  string
	Outcome Outcome
	Err     error
}

// Engine reconciles incoming deals against the store, one record at a time.
type Engine struct {
	store  dealstore.Store
	logger zerolog.Logger
}

func NewEngine(store dealstore.Store, logger zerolog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Apply decides whether incoming is skipped, inserted or updated and performs
// the writes. Cancellation of ctx does not interrupt a record that has
// started; store calls still run under their own timeouts.
func (e *Engine) Apply(ctx context.Context, incoming deals.Deal) Result {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With().Str("deal_number", incoming.Number).Logger()
	failed := func(msg string, err error) Result {
		log.Error().Err(err).Msg(msg)
		return Result{Number: incoming.Number, Outcome: OutcomeFailed, Err: err}
	}

	existing, err := e.store.FindDealByNumber(ctx, incoming.Number)
	if err != nil {
		return failed("deal lookup failed; record skipped", err)
	}
	if existing != nil && SameDeal(*existing, incoming) {
		log.Debug().Msg("deal unchanged")
		return Result{Number: incoming.Number, Outcome: OutcomeUnchanged}
	}

	resolved := incoming
	var buyerWritten, sellerWritten bool
	resolved.Buyer.ID, buyerWritten, err = e.resolveParty(ctx, log, deals.RoleBuyer, incoming.Buyer)
	if err != nil {
		return failed("buyer could not be resolved; record skipped", err)
	}
	resolved.Seller.ID, sellerWritten, err = e.resolveParty(ctx, log, deals.RoleSeller, incoming.Seller)
	if err != nil {
		return failed("seller could not be resolved; record skipped", err)
	}
	if existing != nil && !buyerWritten && !sellerWritten && sameRow(*existing, resolved) {
		log.Debug().Msg("deal unchanged after party resolution")
		return Result{Number: incoming.Number, Outcome: OutcomeUnchanged}
	}

	if existing == nil {
		if err := e.store.InsertDeal(ctx, resolved); err != nil {
			return failed("deal insert failed", err)
		}
		log.Info().
			Int64("seller_id", resolved.Seller.ID).
			Int64("buyer_id", resolved.Buyer.ID).
			Msg("deal inserted")
		return Result{Number: incoming.Number, Outcome: OutcomeInserted}
	}

	if err := e.store.UpdateDeal(ctx, resolved); err != nil {
		return failed("deal update failed", err)
	}
	log.Info().
		Int64("seller_id", resolved.Seller.ID).
		Int64("buyer_id", resolved.Buyer.ID).
		Msg("deal updated")
	return Result{Number: incoming.Number, Outcome: OutcomeUpdated}
}

// resolveParty returns the id of the party stored under incoming.Name,
// creating it or refreshing its tax id as needed, and whether it wrote. A
// party keeps its id for life; only the tax id is rewritten.
func (e *Engine) resolveParty(ctx context.Context, log zerolog.Logger, role deals.Role, incoming deals.Party) (int64, bool, error) {
	plog := log.With().Str("role", role.String()).Str("party_name", incoming.Name).Logger()

	existing, err := e.store.FindPartyByName(ctx, role, incoming.Name)
	if err != nil {
		plog.Error().Err(err).Msg("party lookup failed")
		return 0, false, err
	}
	if existing == nil {
		id, err := e.store.InsertParty(ctx, role, incoming.Name, incoming.TaxID)
		if err != nil {
			plog.Error().Err(err).Msg("party insert failed")
			return 0, false, err
		}
		plog.Info().Int64("party_id", id).Msg("party inserted")
		return id, true, nil
	}
	if existing.TaxID == incoming.TaxID {
		return existing.ID, false, nil
	}
	if err := e.store.UpdatePartyTaxID(ctx, role, existing.ID, incoming.TaxID); err != nil {
		plog.Error().Err(err).Int64("party_id", existing.ID).Msg("party tax id update failed")
		return 0, false, err
	}
	plog.Info().
		Int64("party_id", existing.ID).
		Str("old_tax_id", existing.TaxID).
		Str("new_tax_id", incoming.TaxID).
		Msg("party tax id refreshed")
	return existing.ID, true, nil
}
