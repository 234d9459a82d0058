package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/askthestars/askthestars/app/models"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.Entitlement
	ledger  map[string]*models.BillingWebhookEvent
	writes  int
	now     clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.Entitlement),
		ledger:  make(map[string]*models.BillingWebhookEvent),
	}
}

// WithClock overrides the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[strings.TrimSpace(userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) UpsertMerge(ctx context.Context, userID string, p Patch) (WriteResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.EventID != "" {
		if _, ok := s.ledger[p.EventID]; ok {
			return WriteDuplicate, nil
		}
	}

	now := s.now.now()
	rec, ok := s.records[userID]
	if !ok {
		rec = models.NewDefaultEntitlement(userID, now)
	}

	seen := false
	if needsSubscriptionLookup(rec, p) {
		seen = s.subscriptionSeen(*p.GatewaySubscriptionID)
	}
	wr := guardPatch(rec, p, seen)
	if wr == WriteDeferred {
		return wr, nil
	}
	if wr == WriteApplied {
		applyPatch(rec, p, now)
		s.records[userID] = rec
		s.writes++
	}
	if p.EventID != "" {
		s.ledger[p.EventID] = ledgerEntry(userID, p, wr, now)
	}
	return wr, nil
}

// subscriptionSeen must be called with s.mu held.
func (s *MemoryStore) subscriptionSeen(subscriptionID string) bool {
	for _, ev := range s.ledger {
		if ev.SubscriptionID == subscriptionID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) EventApplied(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ledger[eventID]
	return ok, nil
}

func (s *MemoryStore) EnsureDefault(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[userID]; !ok {
		s.records[userID] = models.NewDefaultEntitlement(userID, s.now.now())
	}
	return nil
}

// Writes returns how many entitlement writes have been committed.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// LedgerSize returns the number of recorded event ids.
func (s *MemoryStore) LedgerSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}
