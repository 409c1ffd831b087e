package dealstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentworkforce/dealsync/internal/deals"
)

type memoryDealRow struct {
	number       string
	date         time.Time
	volumeBuyer  decimal.Decimal
	volumeSeller decimal.Decimal
	sellerID     int64
	buyerID      int64
}

type memoryPartyTable struct {
	nextID int64
	byID   map[int64]deals.Party
	byName map[string]int64
}

// InMemoryStore keeps parties and deals in process memory. It backs the
// memory:// DSN and the tests.
type InMemoryStore struct {
	mu      sync.Mutex
	parties map[deals.Role]*memoryPartyTable
	deals   map[string]memoryDealRow
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		parties: map[deals.Role]*memoryPartyTable{
			deals.RoleSeller: newMemoryPartyTable(),
			deals.RoleBuyer:  newMemoryPartyTable(),
		},
		deals: map[string]memoryDealRow{},
	}
}

func newMemoryPartyTable() *memoryPartyTable {
	return &memoryPartyTable{
		byID:   map[int64]deals.Party{},
		byName: map[string]int64{},
	}
}

func (s *InMemoryStore) FindDealByNumber(ctx context.Context, number string) (*deals.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.deals[number]
	if !ok {
		return nil, nil
	}
	seller, sellerOK := s.parties[deals.RoleSeller].byID[row.sellerID]
	buyer, buyerOK := s.parties[deals.RoleBuyer].byID[row.buyerID]
	if !sellerOK || !buyerOK {
		return nil, persistenceErr("find deal", fmt.Errorf("deal %s references missing party", number))
	}
	return &deals.Deal{
		Number:       row.number,
		Date:         row.date,
		VolumeBuyer:  row.volumeBuyer,
		VolumeSeller: row.volumeSeller,
		Seller:       seller,
		Buyer:        buyer,
	}, nil
}

func (s *InMemoryStore) FindPartyByName(ctx context.Context, role deals.Role, name string) (*deals.Party, error) {
	if err := validateRole(role); err != nil {
		return nil, persistenceErr("find "+role.String(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.parties[role]
	id, ok := table.byName[name]
	if !ok {
		return nil, nil
	}
	party := table.byID[id]
	return &party, nil
}

func (s *InMemoryStore) InsertParty(ctx context.Context, role deals.Role, name, taxID string) (int64, error) {
	if err := validateRole(role); err != nil {
		return 0, persistenceErr("insert "+role.String(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.parties[role]
	if _, exists := table.byName[name]; exists {
		return 0, persistenceErr("insert "+role.String(), fmt.Errorf("%s %q already exists", role, name))
	}
	table.nextID++
	id := table.nextID
	table.byID[id] = deals.Party{ID: id, Name: name, TaxID: taxID}
	table.byName[name] = id
	return id, nil
}

func (s *InMemoryStore) UpdatePartyTaxID(ctx context.Context, role deals.Role, id int64, taxID string) error {
	op := "update " + role.String()
	if err := validateRole(role); err != nil {
		return persistenceErr(op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.parties[role]
	party, ok := table.byID[id]
	if !ok {
		return persistenceErr(op, fmt.Errorf("%w: %s id %d", ErrNotFound, role, id))
	}
	party.TaxID = taxID
	table.byID[id] = party
	return nil
}

func (s *InMemoryStore) InsertDeal(ctx context.Context, deal deals.Deal) error {
	if err := validateResolvedDeal(deal); err != nil {
		return persistenceErr("insert deal", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deals[deal.Number]; exists {
		return persistenceErr("insert deal", fmt.Errorf("deal %s already exists", deal.Number))
	}
	s.deals[deal.Number] = memoryRowFromDeal(deal)
	return nil
}

func (s *InMemoryStore) UpdateDeal(ctx context.Context, deal deals.Deal) error {
	if err := validateResolvedDeal(deal); err != nil {
		return persistenceErr("update deal", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deals[deal.Number]; !exists {
		return persistenceErr("update deal", fmt.Errorf("%w: deal %s", ErrNotFound, deal.Number))
	}
	s.deals[deal.Number] = memoryRowFromDeal(deal)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// Counts reports the number of stored sellers, buyers and deals.
func (s *InMemoryStore) Counts() (sellers, buyers, dealCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parties[deals.RoleSeller].byID), len(s.parties[deals.RoleBuyer].byID), len(s.deals)
}

func memoryRowFromDeal(deal deals.Deal) memoryDealRow {
	return memoryDealRow{
		number:       deal.Number,
		date:         deals.CalendarDay(deal.Date),
		volumeBuyer:  deal.VolumeBuyer,
		volumeSeller: deal.VolumeSeller,
		sellerID:     deal.Seller.ID,
		buyerID:      deal.Buyer.ID,
	}
}
