package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentworkforce/dealsync/internal/deals"
	"github.com/agentworkforce/dealsync/internal/dealstore"
)

// recordingStore wraps the in-memory store, counts writes and can be told to
// fail specific operations.
type recordingStore struct {
	*dealstore.InMemoryStore

	mu          sync.Mutex
	writes      []string
	failOps     map[string]error
	canceledOps []string
	afterWrite  func(op string)
	// aliases maps an incoming party name to the stored one, the way a
	// case-insensitive collation would.
	aliases map[string]string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		InMemoryStore: dealstore.NewInMemoryStore(),
		failOps:       map[string]error{},
	}
}

func (s *recordingStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = err
}

func (s *recordingStore) check(ctx context.Context, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.canceledOps = append(s.canceledOps, op)
	}
	if err, ok := s.failOps[op]; ok {
		return &deals.PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (s *recordingStore) recordWrite(op string) {
	s.mu.Lock()
	s.writes = append(s.writes, op)
	hook := s.afterWrite
	s.mu.Unlock()
	if hook != nil {
		hook(op)
	}
}

func (s *recordingStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *recordingStore) resetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

func (s *recordingStore) FindDealByNumber(ctx context.Context, number string) (*deals.Deal, error) {
	if err := s.check(ctx, "find deal"); err != nil {
		return nil, err
	}
	return s.InMemoryStore.FindDealByNumber(ctx, number)
}

func (s *recordingStore) FindPartyByName(ctx context.Context, role deals.Role, name string) (*deals.Party, error) {
	if err := s.check(ctx, "find "+role.String()); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if stored, ok := s.aliases[name]; ok {
		name = stored
	}
	s.mu.Unlock()
	return s.InMemoryStore.FindPartyByName(ctx, role, name)
}

func (s *recordingStore) InsertParty(ctx context.Context, role deals.Role, name, taxID string) (int64, error) {
	op := "insert " + role.String()
	if err := s.check(ctx, op); err != nil {
		return 0, err
	}
	id, err := s.InMemoryStore.InsertParty(ctx, role, name, taxID)
	if err == nil {
		s.recordWrite(op)
	}
	return id, err
}

func (s *recordingStore) UpdatePartyTaxID(ctx context.Context, role deals.Role, id int64, taxID string) error {
	op := "update " + role.String()
	if err := s.check(ctx, op); err != nil {
		return err
	}
	err := s.InMemoryStore.UpdatePartyTaxID(ctx, role, id, taxID)
	if err == nil {
		s.recordWrite(op)
	}
	return err
}

func (s *recordingStore) InsertDeal(ctx context.Context, deal deals.Deal) error {
	if err := s.check(ctx, "insert deal"); err != nil {
		return err
	}
	err := s.InMemoryStore.InsertDeal(ctx, deal)
	if err == nil {
		s.recordWrite("insert deal")
	}
	return err
}

func (s *recordingStore) UpdateDeal(ctx context.Context, deal deals.Deal) error {
	if err := s.check(ctx, "update deal"); err != nil {
		return err
	}
	err := s.InMemoryStore.UpdateDeal(ctx, deal)
	if err == nil {
		s.recordWrite("update deal")
	}
	return err
}

// fakeSource serves total records split into pages; record i has deal
// number D-<i>.
type fakeSource struct {
	mu          sync.Mutex
	total       int
	records     []deals.RawDeal
	countErr    error
	pageErrs    map[int][]error
	pagesCalled []int
	countCalls  int
}

func newFakeSource(total int) *fakeSource {
	records := make([]deals.RawDeal, 0, total)
	for i := 0; i < total; i++ {
		records = append(records, rawDeal(fmt.Sprintf("D-%d", i), fmt.Sprintf("Seller %d", i%3), fmt.Sprintf("Buyer %d", i%5)))
	}
	return &fakeSource{total: total, records: records, pageErrs: map[int][]error{}}
}

func (s *fakeSource) TotalCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.total, nil
}

func (s *fakeSource) FetchPage(ctx context.Context, pageSize, pageIndex int) ([]deals.RawDeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pagesCalled = append(s.pagesCalled, pageIndex)
	if errs := s.pageErrs[pageIndex]; len(errs) > 0 {
		err := errs[0]
		s.pageErrs[pageIndex] = errs[1:]
		return nil, err
	}
	start := pageIndex * pageSize
	if start >= len(s.records) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(s.records) {
		end = len(s.records)
	}
	return append([]deals.RawDeal(nil), s.records[start:end]...), nil
}

func (s *fakeSource) pages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pagesCalled...)
}

func rawDeal(number, seller, buyer string) deals.RawDeal {
	var raw deals.RawDeal
	raw.DealNumber = number
	raw.DealDate = "2022-06-27"
	raw.SellerName = seller
	raw.SellerInn = "1111111111"
	raw.BuyerName = buyer
	raw.BuyerInn = "2222222222"
	return raw
}

var errStoreDown = errors.New("connection lost")
